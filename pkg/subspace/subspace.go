// Package subspace factors a reference matrix (frames x pixels) into a
// low-rank orthonormal basis of PSF templates and per-frame projection
// weights. The deterministic path computes a full thin SVD and supports
// an explained-variance cutoff; the truncated path trades bitwise
// reproducibility for speed on large matrices by using randomized
// subspace iteration.
package subspace

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrRank indicates a requested component count above the number of
// available reference frames.
var ErrRank = errors.New("requested components exceed available reference frames")

// oversampling is the extra subspace dimension carried by the
// randomized truncated path, and powerIterations the number of
// range-refinement rounds.
const (
	oversampling    = 10
	powerIterations = 2
)

// Options configures a decomposition.
type Options struct {
	// Rank is the requested number of components. Zero or negative
	// requests every available component. Values above the reference
	// frame count are a configuration error.
	Rank int

	// PRatio is the explained-variance cutoff in (0, 1]: the rank is
	// reduced to the smallest prefix of components whose cumulative
	// normalized singular-value sum reaches it. Zero means 1.0, no
	// early cutoff. Not supported by the truncated path.
	PRatio float64

	// Truncated selects randomized truncated SVD instead of the full
	// deterministic decomposition. Requires an explicit Rank.
	Truncated bool

	// Log receives informational notices. The zero value discards.
	Log zerolog.Logger
}

// Decomposition is the result of factoring a reference matrix.
type Decomposition struct {
	// Basis holds one orthonormal component per row (Rank x pixels).
	Basis *mat.Dense

	// Weights holds the projection of each input frame onto the basis
	// (frames x Rank).
	Weights *mat.Dense

	// Values are the singular values of the retained components.
	Values []float64

	// Rank is the retained component count.
	Rank int
}

// Reconstruct returns Weights * Basis, the low-rank PSF model of the
// input matrix.
func (d *Decomposition) Reconstruct() *mat.Dense {
	var out mat.Dense
	out.Mul(d.Weights, d.Basis)
	return &out
}

// Decompose factors refs (frames x pixels) according to opts.
func Decompose(opts Options, refs mat.Matrix) (*Decomposition, error) {
	n, p := refs.Dims()
	if n == 0 || p == 0 {
		return nil, fmt.Errorf("empty reference matrix %dx%d", n, p)
	}

	maxRank := n
	if p < maxRank {
		maxRank = p
	}

	requested := opts.Rank
	if requested <= 0 {
		requested = maxRank
	}
	if requested > n {
		return nil, fmt.Errorf("%w: %d > %d", ErrRank, requested, n)
	}
	if requested > maxRank {
		requested = maxRank
	}

	pratio := opts.PRatio
	if pratio == 0 {
		pratio = 1
	}
	if pratio < 0 || pratio > 1 {
		return nil, fmt.Errorf("explained variance ratio must be in (0, 1], got %v", opts.PRatio)
	}

	if opts.Truncated {
		if opts.Rank <= 0 {
			return nil, fmt.Errorf("truncated decomposition requires an explicit rank")
		}
		if pratio < 1 {
			return nil, fmt.Errorf("truncated decomposition does not support an explained variance cutoff")
		}
		return decomposeTruncated(refs, requested)
	}

	return decomposeFull(opts.Log, refs, requested, pratio)
}

// decomposeFull runs the deterministic thin SVD path.
func decomposeFull(log zerolog.Logger, refs mat.Matrix, requested int, pratio float64) (*Decomposition, error) {
	var svd mat.SVD
	if ok := svd.Factorize(refs, mat.SVDThin); !ok {
		return nil, fmt.Errorf("singular value decomposition did not converge")
	}
	values := svd.Values(nil)

	rank := requested
	if pratio < 1 {
		if byRatio := rankForRatio(values, pratio); byRatio < rank {
			log.Info().
				Int("requested", requested).
				Int("rank", byRatio).
				Float64("pratio", pratio).
				Msg("explained variance cutoff truncated the basis")
			rank = byRatio
		}
	}

	var v mat.Dense
	svd.VTo(&v)

	return assemble(refs, &v, values, rank), nil
}

// rankForRatio returns the smallest component count whose cumulative
// normalized singular-value sum reaches ratio.
func rankForRatio(values []float64, ratio float64) int {
	total := 0.0
	for _, s := range values {
		total += s
	}
	if total == 0 {
		return 1
	}

	cum := 0.0
	for i, s := range values {
		cum += s
		if cum/total >= ratio {
			return i + 1
		}
	}
	return len(values)
}

// decomposeTruncated approximates the top-rank singular triplets with
// randomized subspace iteration seeded from the clock, so repeated runs
// agree in rank but not bitwise.
func decomposeTruncated(refs mat.Matrix, rank int) (*Decomposition, error) {
	n, p := refs.Dims()

	l := rank + oversampling
	if l > n {
		l = n
	}
	if l > p {
		l = p
	}

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(uint64(time.Now().UnixNano()))}
	omega := mat.NewDense(p, l, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < l; j++ {
			omega.Set(i, j, normal.Rand())
		}
	}

	// Range finder: Q spans the leading column space of refs.
	var y mat.Dense
	y.Mul(refs, omega)
	q, err := orthonormalize(&y, l)
	if err != nil {
		return nil, err
	}

	for iter := 0; iter < powerIterations; iter++ {
		var z mat.Dense
		z.Mul(refs.T(), q)
		qz, err := orthonormalize(&z, l)
		if err != nil {
			return nil, err
		}
		var y2 mat.Dense
		y2.Mul(refs, qz)
		q, err = orthonormalize(&y2, l)
		if err != nil {
			return nil, err
		}
	}

	// Project into the subspace and decompose the small matrix.
	var b mat.Dense
	b.Mul(q.T(), refs)

	var svd mat.SVD
	if ok := svd.Factorize(&b, mat.SVDThin); !ok {
		return nil, fmt.Errorf("singular value decomposition did not converge")
	}
	values := svd.Values(nil)

	var v mat.Dense
	svd.VTo(&v)

	return assemble(refs, &v, values, rank), nil
}

// orthonormalize returns the first cols columns of the Q factor of m.
func orthonormalize(m *mat.Dense, cols int) (*mat.Dense, error) {
	rows, _ := m.Dims()

	var qr mat.QR
	qr.Factorize(m)
	var q mat.Dense
	qr.QTo(&q)

	out := mat.NewDense(rows, cols, nil)
	out.Copy(q.Slice(0, rows, 0, cols))
	return out, nil
}

// assemble builds the decomposition from the right singular vectors:
// the basis rows are the top-rank components and the weights are the
// projection of the input onto them.
func assemble(refs mat.Matrix, v *mat.Dense, values []float64, rank int) *Decomposition {
	_, p := refs.Dims()

	basis := mat.NewDense(rank, p, nil)
	for i := 0; i < rank; i++ {
		for j := 0; j < p; j++ {
			basis.Set(i, j, v.At(j, i))
		}
	}

	var weights mat.Dense
	weights.Mul(refs, basis.T())

	kept := make([]float64, rank)
	copy(kept, values[:rank])

	return &Decomposition{
		Basis:   basis,
		Weights: &weights,
		Values:  kept,
		Rank:    rank,
	}
}
