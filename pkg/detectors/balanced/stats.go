package balanced

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// rcond is the relative cutoff below which singular values of the
// covariance matrix are treated as zero by the pseudo-inverse.
const rcond = 1e-15

// statistics are the fitted mean and inverse covariance of a retained set.
// A value is never modified after it is built.
type statistics struct {
	mean *mat.VecDense
	covI *mat.Dense
}

// distance returns the Mahalanobis distance between x and the fitted
// distribution.
func (s *statistics) distance(x []float64) (float64, error) {
	dim := s.mean.Len()
	if len(x) != dim {
		return 0, fmt.Errorf("%w: feature vector has length %d, model expects %d", ErrShapeMismatch, len(x), dim)
	}

	diff := mat.NewVecDense(dim, nil)
	diff.SubVec(mat.NewVecDense(dim, x), s.mean)

	// Rounding in the pseudo-inverse can leave the quadratic form a hair
	// below zero for points sitting on the mean.
	q := mat.Inner(diff, s.covI, diff)
	if q < 0 {
		q = 0
	}
	return math.Sqrt(q), nil
}

// distribution owns the retained feature vectors and their cached
// statistics. Every mutation clears the cache.
type distribution struct {
	dim     int
	vectors [][]float64
	stats   *statistics

	// acc is non-nil when covariance is maintained by rank-one updates
	// instead of a full recompute.
	acc *accumulator
}

func newDistribution(dim int, incremental bool) *distribution {
	d := &distribution{dim: dim}
	if incremental {
		d.acc = newAccumulator(dim)
	}
	return d
}

func (d *distribution) len() int {
	return len(d.vectors)
}

// add appends a copy of x to the retained set.
func (d *distribution) add(x []float64) {
	v := make([]float64, len(x))
	copy(v, x)
	d.vectors = append(d.vectors, v)
	d.stats = nil
	if d.acc != nil {
		d.acc.add(v)
	}
}

// retain keeps the vectors whose keep flag is set, preserving order. The
// rank-one accumulator cannot remove samples, so it is dropped and later
// fits recompute from scratch.
func (d *distribution) retain(keep []bool) {
	kept := d.vectors[:0:0]
	for i, v := range d.vectors {
		if keep[i] {
			kept = append(kept, v)
		}
	}
	d.vectors = kept
	d.stats = nil
	d.acc = nil
}

// refit drops any incremental state and recomputes the statistics from the
// retained vectors.
func (d *distribution) refit() error {
	d.acc = nil
	return d.fit()
}

// fit computes the mean and the pseudo-inverse of the unbiased sample
// covariance of the retained set.
func (d *distribution) fit() error {
	n := len(d.vectors)
	if n == 0 {
		return fmt.Errorf("%w: no retained feature vectors", ErrEmptyModel)
	}
	if n < 2 {
		return fmt.Errorf("%w: covariance needs at least 2 feature vectors, have %d", ErrDegenerateModel, n)
	}

	var (
		mean *mat.VecDense
		cov  *mat.SymDense
	)
	if d.acc != nil && d.acc.n == n {
		mean, cov = d.acc.estimate()
	} else {
		mean, cov = d.estimate()
	}

	for i := 0; i < d.dim; i++ {
		if v := mean.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: mean is not finite", ErrDegenerateModel)
		}
	}

	covI, err := pseudoInverse(cov)
	if err != nil {
		return err
	}

	d.stats = &statistics{mean: mean, covI: covI}
	return nil
}

func (d *distribution) estimate() (*mat.VecDense, *mat.SymDense) {
	n := len(d.vectors)
	x := mat.NewDense(n, d.dim, nil)
	for i, v := range d.vectors {
		x.SetRow(i, v)
	}

	mean := mat.NewVecDense(d.dim, nil)
	col := make([]float64, n)
	for j := 0; j < d.dim; j++ {
		mat.Col(col, j, x)
		mean.SetVec(j, stat.Mean(col, nil))
	}

	cov := mat.NewSymDense(d.dim, nil)
	stat.CovarianceMatrix(cov, x, nil)
	return mean, cov
}

// distance returns the Mahalanobis distance of x under the cached
// statistics. The cache must be fresh.
func (d *distribution) distance(x []float64) (float64, error) {
	if d.stats == nil {
		return 0, ErrNotFitted
	}
	return d.stats.distance(x)
}

// pseudoInverse returns the Moore-Penrose inverse of a through its singular
// value decomposition. A matrix without a single usable singular value
// yields the zero matrix, which would make every distance zero, so it is
// reported as degenerate instead.
func pseudoInverse(a *mat.SymDense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, fmt.Errorf("%w: covariance decomposition failed", ErrDegenerateModel)
	}

	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 || math.IsNaN(values[0]) || math.IsInf(values[0], 0) {
		return nil, fmt.Errorf("%w: covariance matrix is zero or not finite", ErrDegenerateModel)
	}

	// Values are sorted in decreasing order.
	cutoff := rcond * values[0]
	inverted := make([]float64, len(values))
	for k, s := range values {
		if s > cutoff {
			inverted[k] = 1 / s
		}
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var vs mat.Dense
	vs.Apply(func(_, j int, x float64) float64 {
		return x * inverted[j]
	}, &v)

	var inv mat.Dense
	inv.Mul(&vs, u.T())
	return &inv, nil
}

// accumulator keeps a running mean and scatter matrix using Welford's
// update so covariance can be estimated without revisiting every sample.
type accumulator struct {
	n       int
	mean    []float64
	scatter *mat.SymDense
}

func newAccumulator(dim int) *accumulator {
	return &accumulator{
		mean:    make([]float64, dim),
		scatter: mat.NewSymDense(dim, nil),
	}
}

func (a *accumulator) add(x []float64) {
	a.n++
	delta := make([]float64, len(x))
	for i, v := range x {
		delta[i] = v - a.mean[i]
		a.mean[i] += delta[i] / float64(a.n)
	}
	// delta ⊗ (x - newMean) == (n-1)/n · delta ⊗ delta
	a.scatter.SymRankOne(a.scatter, float64(a.n-1)/float64(a.n), mat.NewVecDense(len(delta), delta))
}

func (a *accumulator) estimate() (*mat.VecDense, *mat.SymDense) {
	mean := make([]float64, len(a.mean))
	copy(mean, a.mean)

	cov := mat.NewSymDense(len(a.mean), nil)
	cov.ScaleSym(1/float64(a.n-1), a.scatter)
	return mat.NewVecDense(len(mean), mean), cov
}
