// Package balanced implements an anomaly model formed by a Balanced
// Distribution of feature vectors.
//
// The model keeps a reference set of "normal" feature vectors. It is seeded
// with the first N vectors of the training sequence, grown by admitting every
// later vector whose Mahalanobis distance to the current set exceeds the
// learning threshold α, and pruned of members closer than α·η to the final
// set. A query vector is anomalous when its distance to the pruned set
// exceeds the classification threshold β.
//
// The seed vectors are taken as normal without any check. Supplying an
// anomaly-free seed is the caller's responsibility.
package balanced

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hed1ad/bdistml/internal/logging"
	"github.com/hed1ad/bdistml/pkg/detectors"
)

// Name is the name under which balanced distribution models are persisted.
const Name = "BalancedDistribution"

const (
	DefaultInitialNormalFeatures   = 1000
	DefaultThresholdLearning       = 20.0
	DefaultThresholdClassification = 5.0
	DefaultPruningParameter        = 0.5
)

var (
	_ detectors.Generator      = (*Model)(nil)
	_ detectors.StreamDetector = (*Model)(nil)
)

// Model is a Balanced Distribution anomaly model. Classification is safe for
// concurrent use; Generate and Load hold the model exclusively.
type Model struct {
	mu sync.RWMutex

	// Configuration
	initialNormalFeatures   int     // N
	thresholdLearning       float64 // α
	thresholdClassification float64 // β
	pruningParameter        float64 // η
	incremental             bool
	progress                ProgressFunc

	// Trained model
	dist *distribution
	meta Metadata
}

// Option configures a Model.
type Option func(*Model)

// WithInitialNormalFeatures sets the size of the unconditional seed set.
func WithInitialNormalFeatures(n int) Option {
	return func(m *Model) {
		m.initialNormalFeatures = n
	}
}

// WithLearningThreshold sets the distance above which a candidate joins the
// distribution during growth.
func WithLearningThreshold(alpha float64) Option {
	return func(m *Model) {
		m.thresholdLearning = alpha
	}
}

// WithClassificationThreshold sets the default distance above which a query
// is anomalous.
func WithClassificationThreshold(beta float64) Option {
	return func(m *Model) {
		m.thresholdClassification = beta
	}
}

// WithPruningParameter sets the fraction of the learning threshold used as
// the pruning cutoff. It must lie strictly between 0 and 1.
func WithPruningParameter(eta float64) Option {
	return func(m *Model) {
		m.pruningParameter = eta
	}
}

// WithIncrementalCovariance maintains the covariance during growth with
// rank-one updates instead of recomputing it after every acceptance. Results
// match the default only up to floating-point rounding.
func WithIncrementalCovariance(enabled bool) Option {
	return func(m *Model) {
		m.incremental = enabled
	}
}

// WithProgress registers an observer called once per processed vector.
func WithProgress(fn ProgressFunc) Option {
	return func(m *Model) {
		m.progress = fn
	}
}

// New creates a Model with the given options.
func New(opts ...Option) (*Model, error) {
	m := &Model{
		initialNormalFeatures:   DefaultInitialNormalFeatures,
		thresholdLearning:       DefaultThresholdLearning,
		thresholdClassification: DefaultThresholdClassification,
		pruningParameter:        DefaultPruningParameter,
	}

	for _, opt := range opts {
		opt(m)
	}

	if err := validate(m.initialNormalFeatures, m.thresholdLearning, m.thresholdClassification, m.pruningParameter); err != nil {
		return nil, err
	}

	return m, nil
}

func validate(n int, alpha, beta, eta float64) error {
	if n <= 0 {
		return fmt.Errorf("%w: initial_normal_features must be positive, got %d", ErrInvalidParameter, n)
	}
	if !(alpha > 0) || math.IsInf(alpha, 0) {
		return fmt.Errorf("%w: threshold_learning must be positive, got %v", ErrInvalidParameter, alpha)
	}
	if !(beta > 0) || math.IsInf(beta, 0) {
		return fmt.Errorf("%w: threshold_classification must be positive, got %v", ErrInvalidParameter, beta)
	}
	if !(eta > 0 && eta < 1) {
		return fmt.Errorf("%w: pruning_parameter out of range (0 < η < 1), got %v", ErrInvalidParameter, eta)
	}
	return nil
}

// Fit generates the balanced distribution from data. It cannot be
// interrupted; use Generate for that.
func (m *Model) Fit(data [][]float64) error {
	return m.Generate(context.Background(), data)
}

// Generate builds the balanced distribution from an ordered feature
// sequence: seed, growth, pruning and a final fit. The previous distribution
// is discarded first, and nothing is kept unless all phases succeed. When ctx
// is done mid-way the returned error wraps both ErrCancelled and the context
// error.
func (m *Model) Generate(ctx context.Context, features [][]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dist = nil
	m.meta = Metadata{}

	logger := logging.FromContext(ctx)

	if len(features) <= m.initialNormalFeatures {
		return fmt.Errorf("%w: %d feature vectors provided, need more than initial_normal_features (%d)",
			ErrInsufficientData, len(features), m.initialNormalFeatures)
	}

	dim := len(features[0])
	if dim == 0 {
		return fmt.Errorf("%w: feature vectors are empty", ErrShapeMismatch)
	}
	for i, f := range features {
		if len(f) != dim {
			return fmt.Errorf("%w: feature vector %d has length %d, expected %d", ErrShapeMismatch, i, len(f), dim)
		}
	}

	logger.Infof("generating a balanced distribution from %d feature vectors of length %d", len(features), dim)
	start := time.Now()

	dist, err := m.grow(ctx, features, dim)
	if err != nil {
		return m.abort(ctx, "growth", err)
	}

	if err := m.prune(ctx, dist); err != nil {
		return m.abort(ctx, "pruning", err)
	}

	if n := dist.len(); n < 2 {
		return fmt.Errorf("%w: pruning left %d entries, covariance needs at least 2", ErrDegenerateModel, n)
	}

	if err := dist.fit(); err != nil {
		return fmt.Errorf("fit balanced distribution with %d entries: %w", dist.len(), err)
	}

	m.dist = dist
	m.meta = Metadata{
		RunID:        uuid.NewString(),
		FeaturesUsed: len(features),
		Start:        start,
		End:          time.Now(),
	}

	logger.Infof("generated balanced distribution with %d entries in %s", dist.len(), m.meta.Duration())
	return nil
}

func (m *Model) abort(ctx context.Context, phase string, err error) error {
	if errors.Is(err, ErrCancelled) {
		logging.FromContext(ctx).Warnf("generation interrupted during %s", phase)
		return err
	}
	return fmt.Errorf("%s: %w", phase, err)
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}

// InitialNormalFeatures returns N.
func (m *Model) InitialNormalFeatures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialNormalFeatures
}

// LearningThreshold returns α.
func (m *Model) LearningThreshold() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholdLearning
}

// Threshold returns the default classification threshold β.
func (m *Model) Threshold() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholdClassification
}

// PruningParameter returns η.
func (m *Model) PruningParameter() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pruningParameter
}

// PruningCutoff returns α·η, the distance below which retained vectors are
// pruned.
func (m *Model) PruningCutoff() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pruningCutoff()
}

func (m *Model) pruningCutoff() float64 {
	return m.thresholdLearning * m.pruningParameter
}

// Len returns the size of the balanced distribution, or 0 if none exists.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dist == nil {
		return 0
	}
	return m.dist.len()
}

// Dim returns the feature dimension, or 0 if no distribution exists.
func (m *Model) Dim() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dist == nil {
		return 0
	}
	return m.dist.dim
}

// BalancedDistribution returns a copy of the retained feature vectors.
func (m *Model) BalancedDistribution() [][]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dist == nil {
		return nil
	}
	return copyVectors(m.dist.vectors)
}

// Metadata returns information about the generation that produced the model.
func (m *Model) Metadata() Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

func copyVectors(vectors [][]float64) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		out[i] = make([]float64, len(v))
		copy(out[i], v)
	}
	return out
}
