package balanced

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// Record is the persisted form of a Model: its hyperparameters and the
// balanced distribution. Fitted statistics are never part of it; they are
// recomputed when a record is loaded.
type Record struct {
	InitialNormalFeatures   int
	ThresholdLearning       float64
	ThresholdClassification float64
	PruningParameter        float64

	// BalancedDistribution is the K×D matrix of retained feature vectors.
	BalancedDistribution [][]float64

	Metadata Metadata
}

// Metadata describes the generation that produced a model. It is
// informational only.
type Metadata struct {
	RunID        string
	FeaturesUsed int
	Start        time.Time
	End          time.Time
}

// Duration returns how long the generation took.
func (md Metadata) Duration() time.Duration {
	return md.End.Sub(md.Start)
}

// Dim returns the feature dimension of the balanced distribution.
func (r *Record) Dim() int {
	if len(r.BalancedDistribution) == 0 {
		return 0
	}
	return len(r.BalancedDistribution[0])
}

// Validate checks the hyperparameters and the shape of the balanced
// distribution.
func (r *Record) Validate() error {
	if err := validate(r.InitialNormalFeatures, r.ThresholdLearning, r.ThresholdClassification, r.PruningParameter); err != nil {
		return err
	}
	if len(r.BalancedDistribution) == 0 {
		return fmt.Errorf("%w: record has no balanced distribution", ErrEmptyModel)
	}

	dim := r.Dim()
	if dim == 0 {
		return fmt.Errorf("%w: balanced distribution has empty rows", ErrShapeMismatch)
	}
	for i, v := range r.BalancedDistribution {
		if len(v) != dim {
			return fmt.Errorf("%w: balanced distribution row %d has length %d, expected %d", ErrShapeMismatch, i, len(v), dim)
		}
	}
	return nil
}

// Record returns the persisted form of the model. The model must hold a
// generated or loaded balanced distribution.
func (m *Model) Record() (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dist == nil || m.dist.len() == 0 {
		return nil, fmt.Errorf("%w: generate or load a model before saving it", ErrEmptyModel)
	}

	return &Record{
		InitialNormalFeatures:   m.initialNormalFeatures,
		ThresholdLearning:       m.thresholdLearning,
		ThresholdClassification: m.thresholdClassification,
		PruningParameter:        m.pruningParameter,
		BalancedDistribution:    copyVectors(m.dist.vectors),
		Metadata:                m.meta,
	}, nil
}

// FromRecord builds a Model from rec and fits its statistics. Options may
// set behaviour that is not persisted, such as progress reporting; the
// record's hyperparameters always take precedence.
func FromRecord(rec *Record, opts ...Option) (*Model, error) {
	m, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := m.install(rec); err != nil {
		return nil, err
	}
	return m, nil
}

// install replaces the model's hyperparameters and distribution with rec.
func (m *Model) install(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("load balanced distribution: %w", err)
	}

	dist := newDistribution(rec.Dim(), false)
	for _, v := range rec.BalancedDistribution {
		dist.add(v)
	}
	if err := dist.fit(); err != nil {
		return fmt.Errorf("load balanced distribution: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.initialNormalFeatures = rec.InitialNormalFeatures
	m.thresholdLearning = rec.ThresholdLearning
	m.thresholdClassification = rec.ThresholdClassification
	m.pruningParameter = rec.PruningParameter
	m.dist = dist
	m.meta = rec.Metadata
	return nil
}

// Save serializes the model.
func (m *Model) Save() ([]byte, error) {
	rec, err := m.Record()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	return buf.Bytes(), nil
}

// Load deserializes a model produced by Save.
func (m *Model) Load(data []byte) error {
	var rec Record
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	return m.install(&rec)
}
