package reduce

import (
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"hcipipe/pkg/cube"
	"hcipipe/pkg/geometry"
	"hcipipe/pkg/subspace"
)

// Algorithm models the stellar PSF in one pixel region and subtracts it.
//
// Reduce receives the region submatrix (one flattened region per frame
// row), the parallactic angles of the frames, and the rotation threshold
// in degrees below which frames are too aligned to serve as references
// for each other (zero disables the gating and lets an algorithm use the
// full frame set). It returns the residual matrix with the same shape
// and must not mutate its inputs; implementations must be deterministic
// for identical inputs unless explicitly documented otherwise.
type Algorithm interface {
	Reduce(data *mat.Dense, angles []float64, threshold float64) (*mat.Dense, error)
}

// PCA subtracts a low-rank PSF model built from reference frames.
//
// With a zero threshold a single decomposition of all frames serves
// every frame. With a positive threshold each frame gets its own
// reference set of sufficiently rotated frames, and the component count
// is clamped to the references actually available.
type PCA struct {
	// Components is the requested number of principal components.
	// Zero keeps every available component.
	Components int

	// PRatio is the explained-variance cutoff passed through to the
	// decomposition (zero means no cutoff).
	PRatio float64

	// Truncated selects the randomized truncated decomposition.
	Truncated bool

	// MinFrames sizes the fallback reference window (default 4).
	MinFrames int

	// Log receives decomposition notices. The zero value discards.
	Log zerolog.Logger
}

// Reduce implements Algorithm.
func (p PCA) Reduce(data *mat.Dense, angles []float64, threshold float64) (*mat.Dense, error) {
	n, cols := data.Dims()
	if len(angles) != n {
		return nil, fmt.Errorf("got %d angles for %d frames", len(angles), n)
	}

	opts := subspace.Options{
		Rank:      p.Components,
		PRatio:    p.PRatio,
		Truncated: p.Truncated,
		Log:       p.Log,
	}

	if threshold == 0 {
		// One shared model for all frames.
		dec, err := subspace.Decompose(opts, data)
		if err != nil {
			return nil, err
		}
		var residual mat.Dense
		residual.Sub(data, dec.Reconstruct())
		return &residual, nil
	}

	residual := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		refIdx, err := geometry.SelectReferenceFrames(angles, i, threshold, p.MinFrames)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}

		refs := mat.NewDense(len(refIdx), cols, nil)
		for r, idx := range refIdx {
			refs.SetRow(r, data.RawRowView(idx))
		}

		frameOpts := opts
		if frameOpts.Rank > len(refIdx) {
			p.Log.Debug().
				Int("frame", i).
				Int("references", len(refIdx)).
				Int("requested", frameOpts.Rank).
				Msg("clamping components to available references")
			frameOpts.Rank = len(refIdx)
		}

		dec, err := subspace.Decompose(frameOpts, refs)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}

		target := mat.NewDense(1, cols, nil)
		target.SetRow(0, data.RawRowView(i))

		var weights mat.Dense
		weights.Mul(target, dec.Basis.T())
		var model mat.Dense
		model.Mul(&weights, dec.Basis)

		for j := 0; j < cols; j++ {
			residual.Set(i, j, target.At(0, j)-model.At(0, j))
		}
	}

	return residual, nil
}

// MedianModel subtracts from every frame the per-pixel median of its
// reference frames: the classical ADI baseline.
type MedianModel struct {
	// MinFrames sizes the fallback reference window (default 4).
	MinFrames int
}

// Reduce implements Algorithm.
func (m MedianModel) Reduce(data *mat.Dense, angles []float64, threshold float64) (*mat.Dense, error) {
	n, cols := data.Dims()
	if len(angles) != n {
		return nil, fmt.Errorf("got %d angles for %d frames", len(angles), n)
	}

	residual := mat.NewDense(n, cols, nil)

	if threshold == 0 {
		// The reference set is every frame, so the model is one median
		// profile shared by all frames.
		column := make([]float64, n)
		model := make([]float64, cols)
		for j := 0; j < cols; j++ {
			for i := 0; i < n; i++ {
				column[i] = data.At(i, j)
			}
			model[j] = cube.Median(column)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < cols; j++ {
				residual.Set(i, j, data.At(i, j)-model[j])
			}
		}
		return residual, nil
	}

	for i := 0; i < n; i++ {
		refIdx, err := geometry.SelectReferenceFrames(angles, i, threshold, m.MinFrames)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}

		column := make([]float64, len(refIdx))
		for j := 0; j < cols; j++ {
			for r, idx := range refIdx {
				column[r] = data.At(idx, j)
			}
			residual.Set(i, j, data.At(i, j)-cube.Median(column))
		}
	}

	return residual, nil
}
