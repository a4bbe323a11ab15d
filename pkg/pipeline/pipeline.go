// Package pipeline runs the model lifecycle against a store: load a saved
// model or generate and save a new one, then score feature vectors with it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hed1ad/bdistml/internal/logging"
	"github.com/hed1ad/bdistml/pkg/detectors/balanced"
	bdio "github.com/hed1ad/bdistml/pkg/io"
	"github.com/hed1ad/bdistml/pkg/store"
)

// Options control LoadOrGenerate.
type Options struct {
	// Name is the record name; balanced.Name when empty.
	Name string
	// Force regenerates even if a record exists.
	Force bool
	// Model configures a generated model. A loaded model takes its
	// hyperparameters from the record.
	Model []balanced.Option
}

// Outcome describes what LoadOrGenerate did.
type Outcome struct {
	Model     *balanced.Model
	Generated bool
}

// LoadOrGenerate returns the model stored under opts.Name or, when there is
// none, reads the training sequence from source, generates a model and saves
// it. The store is written only after generation fully succeeds, so a
// cancelled or failed generation leaves it untouched.
func LoadOrGenerate(ctx context.Context, s store.Store, source bdio.Reader, opts Options) (*Outcome, error) {
	logger := logging.FromContext(ctx)

	name := opts.Name
	if name == "" {
		name = balanced.Name
	}

	if !opts.Force {
		m, err := store.LoadModel(ctx, s, name, opts.Model...)
		switch {
		case err == nil:
			logger.Infof("loaded model %q with %d entries and %d dimensions", name, m.Len(), m.Dim())
			return &Outcome{Model: m}, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	if source == nil {
		return nil, fmt.Errorf("model %q: %w and no feature source was given", name, store.ErrNotFound)
	}

	features, err := source.Read()
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}

	m, err := balanced.New(opts.Model...)
	if err != nil {
		return nil, err
	}

	if err := m.Generate(ctx, features); err != nil {
		if errors.Is(err, balanced.ErrCancelled) {
			logger.Warnf("could not generate model %q: cancelled", name)
		}
		return nil, fmt.Errorf("generate model %q: %w", name, err)
	}

	if err := store.SaveModel(ctx, s, name, m); err != nil {
		return nil, err
	}

	return &Outcome{Model: m, Generated: true}, nil
}

// Summary aggregates a scoring run.
type Summary struct {
	Scored    int
	Anomalies int
	Skipped   int
	MaxScore  float64
}

// Classify scores every vector streamed from source and writes one result
// per vector to sink. A nil threshold uses the model's classification
// threshold. Vectors of the wrong dimension are counted and skipped.
func Classify(ctx context.Context, m *balanced.Model, source bdio.Reader, sink bdio.Writer, threshold *float64) (Summary, error) {
	var sum Summary

	beta := m.Threshold()
	if threshold != nil {
		beta = *threshold
	}

	vectors, err := source.Stream(ctx)
	if err != nil {
		return sum, fmt.Errorf("stream features: %w", err)
	}

	index := 0
	for v := range vectors {
		d, err := m.Distance(v)
		switch {
		case errors.Is(err, balanced.ErrShapeMismatch):
			logging.FromContext(ctx).Debugf("skipping vector %d: %v", index, err)
			sum.Skipped++
			index++
			continue
		case err != nil:
			return sum, err
		}

		result := bdio.Result{
			Timestamp: time.Now().Unix(),
			Index:     index,
			Score:     d,
			IsAnomaly: d > beta,
			Features:  v,
		}
		if err := sink.Write(result); err != nil {
			return sum, err
		}

		sum.Scored++
		if result.IsAnomaly {
			sum.Anomalies++
		}
		if d > sum.MaxScore {
			sum.MaxScore = d
		}
		index++
	}

	if ctx.Err() != nil {
		return sum, ctx.Err()
	}
	return sum, nil
}
