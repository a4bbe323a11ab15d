package balanced

import (
	"context"

	"github.com/hed1ad/bdistml/pkg/detectors"
)

// fitted returns the statistics of the current distribution, fitting them
// first if a mutation or load left them unset.
func (m *Model) fitted() (*statistics, error) {
	m.mu.RLock()
	dist := m.dist
	if dist == nil {
		m.mu.RUnlock()
		return nil, ErrNotFitted
	}
	s := dist.stats
	m.mu.RUnlock()

	if s != nil {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dist == nil {
		return nil, ErrNotFitted
	}
	if m.dist.stats == nil {
		if err := m.dist.fit(); err != nil {
			return nil, err
		}
	}
	return m.dist.stats, nil
}

// Distance returns the Mahalanobis distance between sample and the balanced
// distribution.
func (m *Model) Distance(sample []float64) (float64, error) {
	s, err := m.fitted()
	if err != nil {
		return 0, err
	}
	return s.distance(sample)
}

// Distances returns the Mahalanobis distance of every sample.
func (m *Model) Distances(samples [][]float64) ([]float64, error) {
	s, err := m.fitted()
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(samples))
	for i, sample := range samples {
		d, err := s.distance(sample)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// Classify reports whether sample is anomalous, meaning its distance is
// strictly greater than threshold. A nil threshold uses the configured
// classification threshold.
func (m *Model) Classify(sample []float64, threshold *float64) (bool, error) {
	beta := m.Threshold()
	if threshold != nil {
		beta = *threshold
	}

	d, err := m.Distance(sample)
	if err != nil {
		return false, err
	}
	return d > beta, nil
}

// PredictOne returns the Mahalanobis distance of sample.
func (m *Model) PredictOne(sample []float64) (float64, error) {
	return m.Distance(sample)
}

// Predict returns the Mahalanobis distance of every sample.
func (m *Model) Predict(data [][]float64) ([]float64, error) {
	return m.Distances(data)
}

// PredictStream scores samples from input until it is closed or ctx is
// done. Samples of the wrong dimension are skipped.
func (m *Model) PredictStream(ctx context.Context, input <-chan []float64, output chan<- detectors.Score) error {
	s, err := m.fitted()
	if err != nil {
		return err
	}
	threshold := m.Threshold()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			d, err := s.distance(sample)
			if err != nil {
				continue
			}

			select {
			case output <- detectors.Score{
				Value:     d,
				IsAnomaly: d > threshold,
				Features:  sample,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
