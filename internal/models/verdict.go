package models

// Verdict is the classifier output for one FeatureRow. Terminal: never
// mutated after creation.
type Verdict struct {
	RowIndex         int
	FailurePredicted bool
	Snapshot         MetricsSnapshot
}

// MetricsSnapshot carries the three key metrics summarised for the
// advisory capability and for downstream observers.
type MetricsSnapshot struct {
	CPUUsage    float64
	MemoryUsage float64
	RestartsAvg float64
}
