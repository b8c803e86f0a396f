package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Serves fake versions of the two upstreams the agent talks to: a
// Prometheus query API and a model-serving predict endpoint. Useful
// for running cmd/kubemend-agent against nothing.

type predictRequest struct {
	Rows []map[string]float64 `json:"rows"`
}

type predictResponse struct {
	Predictions []int `json:"predictions"`
}

func main() {
	mux := newMux()

	logger := log.New(log.Writer(), "mock-upstreams ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if query == "" {
			query = r.FormValue("query")
		}
		now := time.Now().Unix()
		result := []map[string]any{}
		if strings.Contains(query, "by (instance, container)") {
			for i, instance := range []string{"node-1", "node-2"} {
				result = append(result, map[string]any{
					"metric": map[string]string{"instance": instance, "container": "demo"},
					"value":  []any{now, fmt.Sprintf("%.3f", sampleValue(query)+float64(i)*0.01)},
				})
			}
		} else {
			result = append(result, map[string]any{
				"metric": map[string]string{},
				"value":  []any{now, fmt.Sprintf("%.3f", sampleValue(query))},
			})
		}
		writeJSON(w, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "vector",
				"result":     result,
			},
		})
	})

	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		preds := make([]int, len(req.Rows))
		for i, row := range req.Rows {
			if row["cpu_usage"] > 0.8 || row["memory_usage"] > 100_000_000 || row["container_restarts_avg"] > 3 {
				preds[i] = 1
			}
		}
		writeJSON(w, predictResponse{Predictions: preds})
	})

	return mux
}

func sampleValue(query string) float64 {
	switch {
	case strings.Contains(query, "memory"):
		return 80e6 + rand.Float64()*40e6
	case strings.Contains(query, "restarts"):
		return float64(rand.Intn(4))
	default:
		return rand.Float64()
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
