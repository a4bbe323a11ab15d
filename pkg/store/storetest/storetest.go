// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/bdistml/pkg/detectors/balanced"
	"github.com/hed1ad/bdistml/pkg/store"
)

// OpenFunc opens a fresh, empty store.
type OpenFunc func(t *testing.T) store.Store

// Run exercises a store.Store implementation.
func Run(t *testing.T, open OpenFunc) {
	t.Run("round trip", func(t *testing.T) { testRoundTrip(t, open(t)) })
	t.Run("not found", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("overwrite", func(t *testing.T) { testOverwrite(t, open(t)) })
	t.Run("rejects empty record", func(t *testing.T) { testRejectsEmpty(t, open(t)) })
	t.Run("invalid pruning parameter on load", func(t *testing.T) { testInvalidOnLoad(t, open(t)) })
	t.Run("model round trip", func(t *testing.T) { testModelRoundTrip(t, open(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, open(t)) })
}

// Record returns a small valid record.
func Record() *balanced.Record {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &balanced.Record{
		InitialNormalFeatures:   3,
		ThresholdLearning:       2,
		ThresholdClassification: 1.5,
		PruningParameter:        0.5,
		BalancedDistribution: [][]float64{
			{0.1, 1.0 / 3.0, -7},
			{2, math.SmallestNonzeroFloat64, 1e300},
			{4.25, math.Pi, 0},
			{-1, 5, math.Nextafter(1, 2)},
		},
		Metadata: balanced.Metadata{
			RunID:        "4c1f0b8e-8a5d-4f8e-9d7c-1f0e2a3b4c5d",
			FeaturesUsed: 1200,
			Start:        start,
			End:          start.Add(90 * time.Second),
		},
	}
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	want := Record()
	require.NoError(t, s.Save(ctx, balanced.Name, want))

	ok, err := s.Exists(ctx, balanced.Name)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Load(ctx, balanced.Name)
	require.NoError(t, err)

	assert.Equal(t, want.InitialNormalFeatures, got.InitialNormalFeatures)
	assert.Equal(t, want.ThresholdLearning, got.ThresholdLearning)
	assert.Equal(t, want.ThresholdClassification, got.ThresholdClassification)
	assert.Equal(t, want.PruningParameter, got.PruningParameter)
	assert.Equal(t, want.Metadata.RunID, got.Metadata.RunID)
	assert.Equal(t, want.Metadata.FeaturesUsed, got.Metadata.FeaturesUsed)
	assert.True(t, want.Metadata.Start.Equal(got.Metadata.Start))
	assert.True(t, want.Metadata.End.Equal(got.Metadata.End))

	require.Len(t, got.BalancedDistribution, len(want.BalancedDistribution))
	for i := range want.BalancedDistribution {
		for j := range want.BalancedDistribution[i] {
			assert.Equal(t,
				math.Float64bits(want.BalancedDistribution[i][j]),
				math.Float64bits(got.BalancedDistribution[i][j]),
				"entry [%d][%d]", i, j)
		}
	}
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	ok, err := s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = store.LoadModel(ctx, s, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testOverwrite(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	require.NoError(t, s.Save(ctx, balanced.Name, Record()))

	second := Record()
	second.ThresholdClassification = 9
	second.BalancedDistribution = second.BalancedDistribution[:2]
	require.NoError(t, s.Save(ctx, balanced.Name, second))

	got, err := s.Load(ctx, balanced.Name)
	require.NoError(t, err)
	assert.Equal(t, 9.0, got.ThresholdClassification)
	assert.Len(t, got.BalancedDistribution, 2)
}

func testRejectsEmpty(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	rec := Record()
	rec.BalancedDistribution = nil
	assert.ErrorIs(t, s.Save(ctx, balanced.Name, rec), balanced.ErrEmptyModel)

	ok, err := s.Exists(ctx, balanced.Name)
	require.NoError(t, err)
	assert.False(t, ok)

	m, err := balanced.New()
	require.NoError(t, err)
	assert.ErrorIs(t, store.SaveModel(ctx, s, balanced.Name, m), balanced.ErrEmptyModel)
}

func testInvalidOnLoad(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	// Save refuses invalid records, so the loaded copy is corrupted instead.
	rec := Record()
	require.NoError(t, s.Save(ctx, balanced.Name, rec))

	loaded, err := s.Load(ctx, balanced.Name)
	require.NoError(t, err)
	loaded.PruningParameter = 1
	_, err = balanced.FromRecord(loaded)
	assert.ErrorIs(t, err, balanced.ErrInvalidParameter)

	rec.PruningParameter = 0
	assert.ErrorIs(t, s.Save(ctx, "other", rec), balanced.ErrInvalidParameter)
}

func testModelRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	rec := Record()
	rec.BalancedDistribution = [][]float64{
		{0.1, 1.0 / 3.0, -7},
		{2, 0.25, 11},
		{4.25, math.Pi, 0},
		{-1, 5, 3.5},
	}
	want, err := balanced.FromRecord(rec)
	require.NoError(t, err)
	require.NoError(t, store.SaveModel(ctx, s, balanced.Name, want))

	got, err := store.LoadModel(ctx, s, balanced.Name)
	require.NoError(t, err)

	assert.Equal(t, want.BalancedDistribution(), got.BalancedDistribution())
	for _, q := range [][]float64{{0, 0, 0}, {1, 2, 3}, {-4, 0.5, 1e3}} {
		a, err := want.Distance(q)
		require.NoError(t, err)
		b, err := got.Distance(q)
		require.NoError(t, err)
		assert.InEpsilon(t, a, b, 1e-9)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	require.NoError(t, s.Save(ctx, balanced.Name, Record()))
	require.NoError(t, s.Save(ctx, "other", Record()))

	overwrite := Record()
	overwrite.BalancedDistribution = overwrite.BalancedDistribution[:2]
	require.NoError(t, s.Save(ctx, balanced.Name, overwrite))

	require.NoError(t, s.Delete(ctx, balanced.Name))
	require.NoError(t, s.Delete(ctx, balanced.Name))

	ok, err := s.Exists(ctx, balanced.Name)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Load(ctx, balanced.Name)
	assert.ErrorIs(t, err, store.ErrNotFound)

	other, err := s.Load(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, other.BalancedDistribution, len(Record().BalancedDistribution))
}
