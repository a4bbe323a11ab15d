package balanced

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/bdistml/pkg/detectors"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantN   int
		wantErr bool
	}{
		{
			name:  "default configuration",
			opts:  nil,
			wantN: DefaultInitialNormalFeatures,
		},
		{
			name:  "custom seed size",
			opts:  []Option{WithInitialNormalFeatures(50)},
			wantN: 50,
		},
		{
			name:    "zero seed size",
			opts:    []Option{WithInitialNormalFeatures(0)},
			wantErr: true,
		},
		{
			name:    "negative learning threshold",
			opts:    []Option{WithLearningThreshold(-1)},
			wantErr: true,
		},
		{
			name:    "zero classification threshold",
			opts:    []Option{WithClassificationThreshold(0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.opts...)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantN, m.InitialNormalFeatures())
		})
	}
}

func TestNewRejectsPruningParameter(t *testing.T) {
	for _, eta := range []float64{0, 1, -0.5, 1.5, math.NaN(), math.Inf(1)} {
		_, err := New(WithPruningParameter(eta))
		assert.ErrorIs(t, err, ErrInvalidParameter, "η=%v", eta)
	}

	m, err := New(WithPruningParameter(0.999))
	require.NoError(t, err)
	assert.Equal(t, 0.999, m.PruningParameter())
}

func TestThresholdsAreDistinct(t *testing.T) {
	m, err := New(
		WithLearningThreshold(8),
		WithClassificationThreshold(3),
		WithPruningParameter(0.25),
	)
	require.NoError(t, err)

	assert.Equal(t, 8.0, m.LearningThreshold())
	assert.Equal(t, 3.0, m.Threshold())
	assert.Equal(t, 2.0, m.PruningCutoff())
}

// The one-dimensional walk-through: [0 2 4] seeds, 10 and 20 are admitted,
// 0.5 is explained, and pruning at 1.0 leaves only 20.
func TestGenerateScenario(t *testing.T) {
	features := [][]float64{{0}, {2}, {4}, {10}, {0.5}, {20}}

	m, err := New(
		WithInitialNormalFeatures(3),
		WithLearningThreshold(2),
		WithPruningParameter(0.5),
	)
	require.NoError(t, err)

	t.Run("growth", func(t *testing.T) {
		dist, err := m.grow(context.Background(), features, 1)
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{0}, {2}, {4}, {10}, {20}}, dist.vectors)
		assert.InDelta(t, 7.2, dist.stats.mean.AtVec(0), 1e-12)
		assert.InDelta(t, 1/65.2, dist.stats.covI.At(0, 0), 1e-12)
	})

	t.Run("pruning", func(t *testing.T) {
		dist, err := m.grow(context.Background(), features, 1)
		require.NoError(t, err)
		require.NoError(t, m.prune(context.Background(), dist))
		assert.Equal(t, [][]float64{{20}}, dist.vectors)
	})

	t.Run("generation surfaces the degenerate result", func(t *testing.T) {
		err := m.Generate(context.Background(), features)
		assert.ErrorIs(t, err, ErrDegenerateModel)
		assert.Equal(t, 0, m.Len())

		_, err = m.Distance([]float64{1})
		assert.ErrorIs(t, err, ErrNotFitted)
	})
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		data    [][]float64
		wantErr error
	}{
		{
			name:    "empty data",
			data:    [][]float64{},
			wantErr: ErrInsufficientData,
		},
		{
			name:    "exactly the seed size",
			data:    generateTestData(20, 2, 1),
			wantErr: ErrInsufficientData,
		},
		{
			name:    "ragged data",
			data:    append(generateTestData(30, 2, 1), []float64{1, 2, 3}),
			wantErr: ErrShapeMismatch,
		},
		{
			name:    "constant seed",
			data:    append(constantData(20, 2), generateTestData(10, 2, 1)...),
			wantErr: ErrDegenerateModel,
		},
		{
			name: "every member pruned",
			opts: []Option{
				WithInitialNormalFeatures(50),
				WithLearningThreshold(20),
				WithPruningParameter(0.5),
			},
			data:    generateTestData(200, 2, 1),
			wantErr: ErrDegenerateModel,
		},
		{
			name: "normal data",
			data: generateTestData(500, 2, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t)
			if tt.opts != nil {
				var err error
				m, err = New(tt.opts...)
				require.NoError(t, err)
			}
			err := m.Generate(context.Background(), tt.data)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, m.Len())
				return
			}
			require.NoError(t, err)
			assert.GreaterOrEqual(t, m.Len(), 2)
			assert.Equal(t, 2, m.Dim())
			assert.NotEmpty(t, m.Metadata().RunID)
			assert.Equal(t, len(tt.data), m.Metadata().FeaturesUsed)
		})
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	data := generateTestData(600, 3, 2)
	queries := generateTestData(20, 3, 3)

	first := newTestModel(t)
	require.NoError(t, first.Generate(context.Background(), data))
	second := newTestModel(t)
	require.NoError(t, second.Generate(context.Background(), data))

	assert.Equal(t, first.BalancedDistribution(), second.BalancedDistribution())

	a, err := first.Predict(queries)
	require.NoError(t, err)
	b, err := second.Predict(queries)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGrowthKeepsSeedAndNeverShrinks(t *testing.T) {
	data := generateTestData(400, 2, 4)

	var retained []int
	m, err := New(
		WithInitialNormalFeatures(20),
		WithLearningThreshold(2.5),
		WithPruningParameter(0.5),
		WithProgress(func(p Progress) {
			if p.Phase == PhaseGrowth {
				retained = append(retained, p.Retained)
			}
		}),
	)
	require.NoError(t, err)

	dist, err := m.grow(context.Background(), data, 2)
	require.NoError(t, err)

	assert.Equal(t, data[:20], dist.vectors[:20])
	require.NotEmpty(t, retained)
	assert.Equal(t, 20, retained[0])
	for i := 1; i < len(retained); i++ {
		assert.GreaterOrEqual(t, retained[i], retained[i-1])
	}
	assert.Equal(t, dist.len(), retained[len(retained)-1])
	assert.Greater(t, dist.len(), 20, "some vectors should be admitted")
}

func TestGrowthAdmitsOnlyDistantVectors(t *testing.T) {
	features := [][]float64{{0}, {2}, {4}, {10}, {0.5}, {20}}

	m, err := New(WithInitialNormalFeatures(3), WithLearningThreshold(2), WithPruningParameter(0.5))
	require.NoError(t, err)

	dist, err := m.grow(context.Background(), features, 1)
	require.NoError(t, err)
	assert.NotContains(t, dist.vectors, []float64{0.5})
}

func TestPruningCutoff(t *testing.T) {
	data := generateTestData(500, 2, 5)
	m := newTestModel(t)

	dist, err := m.grow(context.Background(), data, 2)
	require.NoError(t, err)
	require.NoError(t, dist.refit())

	grown := copyVectors(dist.vectors)
	distances := make([]float64, len(grown))
	for i, v := range grown {
		distances[i], err = dist.distance(v)
		require.NoError(t, err)
	}

	require.NoError(t, m.prune(context.Background(), dist))

	cutoff := m.PruningCutoff()
	var want [][]float64
	for i, v := range grown {
		if distances[i] >= cutoff {
			want = append(want, v)
		}
	}
	assert.Equal(t, want, dist.vectors)
	assert.Less(t, len(dist.vectors), len(grown), "some members should be pruned")
}

func TestClassify(t *testing.T) {
	m := newTestModel(t)
	require.NoError(t, m.Generate(context.Background(), generateTestData(500, 2, 6)))

	t.Run("equality is not anomalous", func(t *testing.T) {
		sample := []float64{0.7, -1.2}
		d, err := m.Distance(sample)
		require.NoError(t, err)
		require.Greater(t, d, 0.0)

		anomalous, err := m.Classify(sample, &d)
		require.NoError(t, err)
		assert.False(t, anomalous)

		below := math.Nextafter(d, 0)
		anomalous, err = m.Classify(sample, &below)
		require.NoError(t, err)
		assert.True(t, anomalous)
	})

	t.Run("default threshold", func(t *testing.T) {
		for _, sample := range generateTestData(50, 2, 7) {
			d, err := m.Distance(sample)
			require.NoError(t, err)

			anomalous, err := m.Classify(sample, nil)
			require.NoError(t, err)
			assert.Equal(t, d > m.Threshold(), anomalous)
		}

		anomalous, err := m.Classify([]float64{1000, -1000}, nil)
		require.NoError(t, err)
		assert.True(t, anomalous)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		_, err := m.Classify([]float64{1, 2, 3}, nil)
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("before generation", func(t *testing.T) {
		untrained := newTestModel(t)
		_, err := untrained.Classify([]float64{1, 2}, nil)
		assert.ErrorIs(t, err, ErrNotFitted)
		_, err = untrained.Predict([][]float64{{1, 2}})
		assert.ErrorIs(t, err, ErrNotFitted)
	})
}

func TestGenerateCancellation(t *testing.T) {
	tests := []struct {
		name  string
		phase Phase
		index int
	}{
		{name: "during growth", phase: PhaseGrowth, index: 40},
		{name: "during pruning", phase: PhasePruning, index: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			m, err := New(
				WithInitialNormalFeatures(20),
				WithLearningThreshold(2.5),
				WithProgress(func(p Progress) {
					if p.Phase == tt.phase && p.Index == tt.index {
						cancel()
					}
				}),
			)
			require.NoError(t, err)

			err = m.Generate(ctx, generateTestData(300, 2, 8))
			assert.ErrorIs(t, err, ErrCancelled)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 0, m.Len())

			_, err = m.Record()
			assert.ErrorIs(t, err, ErrEmptyModel)
		})
	}
}

func TestCancellationDiscardsPreviousModel(t *testing.T) {
	data := generateTestData(300, 2, 9)
	m := newTestModel(t)
	require.NoError(t, m.Generate(context.Background(), data))
	require.Greater(t, m.Len(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Generate(ctx, data)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, m.Len())
}

func TestIncrementalCovariance(t *testing.T) {
	data := generateTestData(400, 3, 10)

	m, err := New(
		WithInitialNormalFeatures(30),
		WithLearningThreshold(3),
		WithIncrementalCovariance(true),
	)
	require.NoError(t, err)

	dist, err := m.grow(context.Background(), data, 3)
	require.NoError(t, err)
	assert.Equal(t, data[:30], dist.vectors[:30])

	require.NoError(t, m.Generate(context.Background(), data))
	assert.GreaterOrEqual(t, m.Len(), 2)
}

func TestSaveLoad(t *testing.T) {
	original := newTestModel(t)
	require.NoError(t, original.Generate(context.Background(), generateTestData(500, 4, 11)))

	testData := generateTestData(50, 4, 12)
	originalScores, err := original.Predict(testData)
	require.NoError(t, err)

	data, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	loaded, err := New()
	require.NoError(t, err)
	require.NoError(t, loaded.Load(data))

	assert.Equal(t, original.BalancedDistribution(), loaded.BalancedDistribution())
	assert.Equal(t, original.InitialNormalFeatures(), loaded.InitialNormalFeatures())
	assert.Equal(t, original.LearningThreshold(), loaded.LearningThreshold())
	assert.Equal(t, original.Threshold(), loaded.Threshold())
	assert.Equal(t, original.PruningParameter(), loaded.PruningParameter())
	assert.Equal(t, original.Metadata().RunID, loaded.Metadata().RunID)

	loadedScores, err := loaded.Predict(testData)
	require.NoError(t, err)
	for i := range originalScores {
		assert.InEpsilon(t, originalScores[i], loadedScores[i], 1e-9)
	}
}

func TestSaveBeforeGenerate(t *testing.T) {
	m := newTestModel(t)
	_, err := m.Save()
	assert.ErrorIs(t, err, ErrEmptyModel)
}

func TestFromRecord(t *testing.T) {
	valid := func() *Record {
		return &Record{
			InitialNormalFeatures:   3,
			ThresholdLearning:       2,
			ThresholdClassification: 1.5,
			PruningParameter:        0.5,
			BalancedDistribution:    [][]float64{{0, 1}, {2, 0}, {4, 5}},
		}
	}

	t.Run("valid record", func(t *testing.T) {
		m, err := FromRecord(valid())
		require.NoError(t, err)
		assert.Equal(t, 3, m.Len())
		assert.Equal(t, 2, m.Dim())
		assert.Equal(t, 1.5, m.Threshold())
	})

	tests := []struct {
		name    string
		mutate  func(r *Record)
		wantErr error
	}{
		{"pruning parameter zero", func(r *Record) { r.PruningParameter = 0 }, ErrInvalidParameter},
		{"pruning parameter one", func(r *Record) { r.PruningParameter = 1 }, ErrInvalidParameter},
		{"pruning parameter above one", func(r *Record) { r.PruningParameter = 2 }, ErrInvalidParameter},
		{"empty distribution", func(r *Record) { r.BalancedDistribution = nil }, ErrEmptyModel},
		{"ragged distribution", func(r *Record) { r.BalancedDistribution[1] = []float64{1} }, ErrShapeMismatch},
		{"single member", func(r *Record) { r.BalancedDistribution = r.BalancedDistribution[:1] }, ErrDegenerateModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.mutate(rec)
			_, err := FromRecord(rec)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPredictStream(t *testing.T) {
	m := newTestModel(t)
	require.NoError(t, m.Generate(context.Background(), generateTestData(300, 3, 13)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testSamples := [][]float64{
		{0.5, 0.5, 0.5},
		{100, 100, 100}, // anomaly
		{1, 2},          // wrong dimension, skipped
		{0.3, 0.3, 0.3},
	}

	input := make(chan []float64, len(testSamples))
	output := make(chan detectors.Score, len(testSamples))
	for _, sample := range testSamples {
		input <- sample
	}
	close(input)

	require.NoError(t, m.PredictStream(ctx, input, output))
	close(output)

	results := make([]detectors.Score, 0, len(testSamples))
	for score := range output {
		results = append(results, score)
	}

	require.Len(t, results, 3)
	assert.True(t, results[1].IsAnomaly)
	assert.Equal(t, []float64{100, 100, 100}, results[1].Features)
}

func BenchmarkGenerate(b *testing.B) {
	data := generateTestData(2000, 8, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m, _ := New(WithInitialNormalFeatures(100), WithLearningThreshold(4))
		m.Generate(context.Background(), data)
	}
}

func BenchmarkGenerateIncremental(b *testing.B) {
	data := generateTestData(2000, 8, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m, _ := New(WithInitialNormalFeatures(100), WithLearningThreshold(4), WithIncrementalCovariance(true))
		m.Generate(context.Background(), data)
	}
}

func BenchmarkClassify(b *testing.B) {
	m, _ := New(WithInitialNormalFeatures(100), WithLearningThreshold(4))
	m.Generate(context.Background(), generateTestData(2000, 8, 1))
	sample := generateTestData(1, 8, 2)[0]

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Classify(sample, nil)
	}
}

func newTestModel(t *testing.T) *Model {
	t.Helper()
	m, err := New(
		WithInitialNormalFeatures(20),
		WithLearningThreshold(2.5),
		WithClassificationThreshold(3),
		WithPruningParameter(0.5),
	)
	require.NoError(t, err)
	return m
}

func generateTestData(n, features int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, features)
		for j := 0; j < features; j++ {
			data[i][j] = rng.NormFloat64()
		}
	}
	return data
}

func constantData(n, features int) [][]float64 {
	data := make([][]float64, n)
	for i := range data {
		data[i] = make([]float64, features)
		for j := range data[i] {
			data[i][j] = 1
		}
	}
	return data
}
