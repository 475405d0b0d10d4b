package models

import "time"

// Metric is a single scalar observation sent to a tracker. Keys of tagged series are
// prefixed with the tag ("test/loss").
type Metric struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Step      int64     `json:"step"`
}

// MetricsFromScalars converts a scalars map into tracker metrics sharing one step and timestamp.
func MetricsFromScalars(tag string, scalars map[string]float64, step int64, timestamp time.Time) []Metric {
	metrics := make([]Metric, 0, len(scalars))
	for name, value := range scalars {
		key := name
		if tag != "" {
			key = tag + "/" + name
		}
		metrics = append(metrics, Metric{
			Key:       key,
			Value:     value,
			Timestamp: timestamp,
			Step:      step,
		})
	}
	return metrics
}
