// Package store persists balanced distribution records under a model name.
//
// A record holds four scalar attributes, the balanced_distribution dataset
// and generation metadata. Fitted statistics are never stored.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/bdistml/pkg/detectors/balanced"
)

// Attribute and dataset names shared by every backend.
const (
	AttrInitialNormalFeatures   = "initial_normal_features"
	AttrThresholdLearning       = "threshold_learning"
	AttrThresholdClassification = "threshold_classification"
	AttrPruningParameter        = "pruning_parameter"
	DatasetBalancedDistribution = "balanced_distribution"

	MetaRunID        = "run_id"
	MetaFeaturesUsed = "features_used"
	MetaStart        = "start"
	MetaEnd          = "end"
)

// ErrNotFound is returned when no record exists under a name.
var ErrNotFound = errors.New("model record not found")

// Store reads and writes model records.
type Store interface {
	// Save writes rec under name, replacing any previous record.
	Save(ctx context.Context, name string, rec *balanced.Record) error

	// Load reads the record stored under name.
	Load(ctx context.Context, name string) (*balanced.Record, error)

	// Exists reports whether a record is stored under name.
	Exists(ctx context.Context, name string) (bool, error)

	// Delete removes the record stored under name, if any.
	Delete(ctx context.Context, name string) error

	// Close releases resources.
	Close() error
}

// LoadModel reads the record stored under name and builds a fitted model
// from it. The pruning parameter is validated before the model is built.
func LoadModel(ctx context.Context, s Store, name string, opts ...balanced.Option) (*balanced.Model, error) {
	rec, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}

	m, err := balanced.FromRecord(rec, opts...)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", name, err)
	}
	return m, nil
}

// SaveModel writes the record of a generated model under name.
func SaveModel(ctx context.Context, s Store, name string, m *balanced.Model) error {
	rec, err := m.Record()
	if err != nil {
		return err
	}
	return s.Save(ctx, name, rec)
}

// CheckSave verifies that rec may be written.
func CheckSave(name string, rec *balanced.Record) error {
	if name == "" {
		return errors.New("empty model name")
	}
	if rec == nil {
		return fmt.Errorf("model %q: %w", name, balanced.ErrEmptyModel)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("model %q: %w", name, err)
	}
	return nil
}

// EncodeDataset encodes a K×D matrix of float64 as a compressed binary
// blob. Values round-trip bit for bit.
func EncodeDataset(rows [][]float64) ([]byte, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("encode dataset: empty matrix")
	}

	cols := len(rows[0])
	m := mat.NewDense(len(rows), cols, nil)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("encode dataset: row %d has length %d, expected %d", i, len(row), cols)
		}
		m.SetRow(i, row)
	}

	raw, err := m.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeDataset reverses EncodeDataset.
func DecodeDataset(data []byte) ([][]float64, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}

	var m mat.Dense
	if err := m.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}

	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, &m)
	}
	return rows, nil
}
