// Package io provides feature-vector sources and result sinks.
package io

import "context"

// Reader is the interface for reading feature vectors from various sources.
// Vectors are returned in source order, which matters for model generation.
type Reader interface {
	// Read returns the complete feature sequence.
	Read() ([][]float64, error)

	// Stream returns a channel of feature vectors for real-time processing.
	Stream(ctx context.Context) (<-chan []float64, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing detection results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close releases resources.
	Close() error
}

// Result represents an anomaly detection result.
type Result struct {
	Timestamp int64          `json:"timestamp"`
	Index     int            `json:"index"`
	Score     float64        `json:"score"`
	IsAnomaly bool           `json:"is_anomaly"`
	Features  []float64      `json:"features,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
