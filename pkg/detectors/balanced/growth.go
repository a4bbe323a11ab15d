package balanced

import (
	"context"
	"fmt"
)

// grow seeds a distribution with the first N feature vectors and then walks
// the rest once, admitting every vector farther than α from the current
// distribution and refitting right after each admission. The retained set
// only grows, and the result depends on input order.
func (m *Model) grow(ctx context.Context, features [][]float64, dim int) (*distribution, error) {
	n := m.initialNormalFeatures
	total := len(features)

	dist := newDistribution(dim, m.incremental)
	for _, f := range features[:n] {
		dist.add(f)
	}
	if err := dist.fit(); err != nil {
		return nil, fmt.Errorf("fit seed set: %w", err)
	}

	m.report(Progress{Phase: PhaseGrowth, Index: n, Total: total, Retained: dist.len()})

	for i := n; i < total; i++ {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}

		d, err := dist.distance(features[i])
		if err != nil {
			return nil, fmt.Errorf("feature vector %d: %w", i, err)
		}

		if d > m.thresholdLearning {
			dist.add(features[i])
			if err := dist.fit(); err != nil {
				return nil, fmt.Errorf("refit after admitting feature vector %d: %w", i, err)
			}
		}

		m.report(Progress{Phase: PhaseGrowth, Index: i + 1, Total: total, Retained: dist.len()})
	}

	return dist, nil
}
