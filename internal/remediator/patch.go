package remediator

import (
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

const (
	defaultMemoryRequest = "256Mi"
	defaultMemoryLimit   = "512Mi"

	// Fixed overrides applied by the cpu-limit and increase-memory
	// actions regardless of current values.
	boostMemoryRequest = "512Mi"
	boostMemoryLimit   = "1Gi"
)

type containerPatch struct {
	Name      string        `json:"name"`
	Resources resourcePatch `json:"resources"`
}

type resourcePatch struct {
	Requests map[string]string `json:"requests"`
	Limits   map[string]string `json:"limits"`
}

// buildResourcePatch produces a deployment pod-template patch adjusting
// memory request/limit for every container of the pod, preserving
// container names. Empty overrides fall back to the container's current
// values, then to fixed defaults. The payload is a pure function of its
// inputs: reapplying it yields the same end state.
func buildResourcePatch(pod *corev1.Pod, memoryRequest, memoryLimit string) ([]byte, error) {
	if pod == nil || len(pod.Spec.Containers) == 0 {
		return nil, fmt.Errorf("pod has no containers")
	}

	patched := make([]containerPatch, 0, len(pod.Spec.Containers))
	for _, container := range pod.Spec.Containers {
		request := memoryRequest
		if request == "" {
			request = currentMemory(container.Resources.Requests, defaultMemoryRequest)
		}
		limit := memoryLimit
		if limit == "" {
			limit = currentMemory(container.Resources.Limits, defaultMemoryLimit)
		}
		patched = append(patched, containerPatch{
			Name: container.Name,
			Resources: resourcePatch{
				Requests: map[string]string{"memory": request},
				Limits:   map[string]string{"memory": limit},
			},
		})
	}

	body := map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"spec": map[string]any{
					"containers": patched,
				},
			},
		},
	}
	return json.Marshal(body)
}

func currentMemory(list corev1.ResourceList, fallback string) string {
	if list == nil {
		return fallback
	}
	if quantity, ok := list[corev1.ResourceMemory]; ok {
		return quantity.String()
	}
	return fallback
}

// buildImagePatch replaces the named container's image and the pod
// template's imagePullSecrets wholesale. The $patch directive forces list
// replacement so stale pull secrets do not linger after the fix.
func buildImagePatch(containerName, image string, pullSecrets []string) ([]byte, error) {
	secrets := make([]map[string]string, 0, len(pullSecrets)+1)
	secrets = append(secrets, map[string]string{"$patch": "replace"})
	for _, name := range pullSecrets {
		secrets = append(secrets, map[string]string{"name": name})
	}

	body := map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []map[string]string{
						{"name": containerName, "image": image},
					},
					"imagePullSecrets": secrets,
				},
			},
		},
	}
	return json.Marshal(body)
}

// buildScalePatch sets the replica count on the scale subresource.
func buildScalePatch(replicas int32) []byte {
	return []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
}
