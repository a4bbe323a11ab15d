package balanced

import (
	"context"
	"fmt"

	"github.com/hed1ad/bdistml/internal/logging"
)

// prune removes every retained vector closer than α·η to the distribution.
// All distances are measured against one fit of the full post-growth set,
// not leave-one-out, and the marked members are removed in a single batch.
// The caller refits the pruned distribution.
func (m *Model) prune(ctx context.Context, dist *distribution) error {
	logger := logging.FromContext(ctx)

	if err := dist.refit(); err != nil {
		return fmt.Errorf("fit grown distribution: %w", err)
	}

	cutoff := m.pruningCutoff()
	total := dist.len()
	keep := make([]bool, total)

	var (
		pruned int
		sum    float64
	)
	for i, v := range dist.vectors {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}

		d, err := dist.distance(v)
		if err != nil {
			return fmt.Errorf("member %d: %w", i, err)
		}
		sum += d

		keep[i] = !(d < cutoff)
		if !keep[i] {
			pruned++
		}

		m.report(Progress{Phase: PhasePruning, Index: i + 1, Total: total, Retained: total, Pruned: pruned})
	}

	logger.Infof("pruning balanced distribution: mean distance %.4f, cutoff %.4f, %d of %d members pruned",
		sum/float64(total), cutoff, pruned, total)

	dist.retain(keep)
	return nil
}
