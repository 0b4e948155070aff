// Package reduce orchestrates PSF subtraction over an ADI cube: it
// partitions frames into annuli, runs a pluggable algorithm on every
// annulus in parallel, scatters the residuals back into a cube, and
// derotates and collapses the result into a single residual frame.
package reduce

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"hcipipe/pkg/cube"
	"hcipipe/pkg/geometry"
	"hcipipe/pkg/imutil"
)

// Config carries the reduction parameters shared by the annular and
// full-frame entry points.
type Config struct {
	// FWHM is the resolution element size in pixels. Required.
	FWHM float64

	// AnnulusWidth is the radial size of each annulus in pixels
	// (default 4).
	AnnulusWidth float64

	// RadiusInner is the inner radius of the first annulus (default 0).
	RadiusInner float64

	// DeltaRot scales the parallactic rejection threshold in FWHM
	// units. Zero disables rotation gating so algorithms see the full
	// frame set.
	DeltaRot float64

	// MinFrames sizes the fallback reference window of the frame
	// selection rule (default 4).
	MinFrames int

	// Collapse selects how the derotated residual cube is combined
	// (median by default).
	Collapse cube.CollapseMode

	// Workers bounds the parallel annulus jobs (NumCPU when <= 0).
	Workers int

	// Log receives pipeline notices. The zero value discards.
	Log zerolog.Logger
}

// DefaultConfig returns a Config with the standard parameter defaults.
// FWHM must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		AnnulusWidth: 4,
		DeltaRot:     1,
		MinFrames:    4,
	}
}

// withDefaults fills unset fields that have non-zero defaults.
func (c Config) withDefaults() Config {
	if c.AnnulusWidth == 0 {
		c.AnnulusWidth = 4
	}
	if c.MinFrames <= 0 {
		c.MinFrames = 4
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

func (c Config) validate(in *cube.Cube, angles []float64) error {
	if in == nil || len(in.Data) == 0 {
		return fmt.Errorf("empty input cube")
	}
	if err := in.CheckAngles(angles); err != nil {
		return err
	}
	if c.FWHM <= 0 {
		return fmt.Errorf("fwhm must be positive, got %v", c.FWHM)
	}
	return nil
}

// annulusResult carries one annulus residual back to the assembler.
type annulusResult struct {
	index    int
	mask     []int
	residual *mat.Dense
	err      error
}

// Annular reduces the cube annulus by annulus and returns the derotated,
// collapsed residual frame. Either one algorithm shared by all annuli or
// exactly one algorithm per annulus may be supplied.
func Annular(in *cube.Cube, angles []float64, cfg Config, algs ...Algorithm) (*mat.Dense, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(in, angles); err != nil {
		return nil, err
	}

	residual, err := annularResidual(in, angles, cfg, algs)
	if err != nil {
		return nil, err
	}
	return finish(residual, angles, cfg)
}

// FullFrame reduces the cube with a single pass of the algorithm over
// every pixel, without annular partitioning or rotation gating, and
// returns the derotated, collapsed residual frame.
func FullFrame(in *cube.Cube, angles []float64, cfg Config, alg Algorithm) (*mat.Dense, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(in, angles); err != nil {
		return nil, err
	}
	if alg == nil {
		return nil, fmt.Errorf("nil reduction algorithm")
	}

	cfg.Log.Info().
		Int("frames", in.Frames).
		Float64("fwhm", cfg.FWHM).
		Msg("starting full-frame reduction")

	res, err := alg.Reduce(in.Copy().Matrix(), angles, 0)
	if err != nil {
		return nil, err
	}
	r, c := res.Dims()
	if r != in.Frames || c != in.FrameSize() {
		return nil, fmt.Errorf("algorithm returned %dx%d residual for %dx%d input", r, c, in.Frames, in.FrameSize())
	}

	residual, err := cube.New(in.Frames, in.Height, in.Width)
	if err != nil {
		return nil, err
	}
	for f := 0; f < in.Frames; f++ {
		copy(residual.Data[f*in.FrameSize():(f+1)*in.FrameSize()], res.RawRowView(f))
	}
	return finish(residual, angles, cfg)
}

// MedianSubtract runs the classical ADI baseline: subtract the global
// median frame, then remove each annulus's per-frame reference median
// with rotation gating, derotate, and collapse.
func MedianSubtract(in *cube.Cube, angles []float64, cfg Config) (*mat.Dense, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(in, angles); err != nil {
		return nil, err
	}

	working := in.Copy()
	med := working.MedianFrame()
	size := working.FrameSize()
	for f := 0; f < working.Frames; f++ {
		base := f * size
		for j := 0; j < size; j++ {
			working.Data[base+j] -= med.RawMatrix().Data[j]
		}
	}

	residual, err := annularResidual(working, angles, cfg, []Algorithm{MedianModel{MinFrames: cfg.MinFrames}})
	if err != nil {
		return nil, err
	}
	return finish(residual, angles, cfg)
}

// annularResidual partitions the cube into annuli, runs the algorithms
// in a bounded worker pool, and scatters the residual submatrices back
// into a full-size cube. Pixels outside the processed radius stay zero.
func annularResidual(in *cube.Cube, angles []float64, cfg Config, algs []Algorithm) (*cube.Cube, error) {
	nAnnuli := geometry.NumAnnuli(in.Height, cfg.RadiusInner, cfg.AnnulusWidth)

	switch len(algs) {
	case 1:
		shared := algs[0]
		algs = make([]Algorithm, nAnnuli)
		for i := range algs {
			algs[i] = shared
		}
	case nAnnuli:
	default:
		return nil, fmt.Errorf("got %d algorithms for %d annuli", len(algs), nAnnuli)
	}
	for i, alg := range algs {
		if alg == nil {
			return nil, fmt.Errorf("nil reduction algorithm for annulus %d", i)
		}
	}

	annuli, err := geometry.DefineAnnuli(angles, nil, nAnnuli, cfg.FWHM, cfg.RadiusInner, cfg.AnnulusWidth, cfg.DeltaRot)
	if err != nil {
		return nil, err
	}

	cfg.Log.Info().
		Int("annuli", nAnnuli).
		Float64("fwhm", cfg.FWHM).
		Float64("width", cfg.AnnulusWidth).
		Msg("starting annular reduction")

	cy, cx := imutil.FrameCenter(in.Height, in.Width)
	size := in.FrameSize()

	resultChan := make(chan annulusResult, nAnnuli)
	sem := make(chan struct{}, cfg.Workers)
	var wg sync.WaitGroup

	for a := 0; a < nAnnuli; a++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(a int) {
			defer wg.Done()
			defer func() { <-sem }()
			resultChan <- processAnnulus(in, angles, cfg, algs[a], annuli[a], nAnnuli, cy, cx)
		}(a)
	}
	wg.Wait()
	close(resultChan)

	out, err := cube.New(in.Frames, in.Height, in.Width)
	if err != nil {
		return nil, err
	}
	for res := range resultChan {
		if res.err != nil {
			return nil, fmt.Errorf("annulus %d: %w", res.index, res.err)
		}
		if len(res.mask) == 0 {
			continue
		}
		// Masks tile the processed disk, so every write lands in a
		// region no other annulus touches.
		for f := 0; f < in.Frames; f++ {
			base := f * size
			for j, idx := range res.mask {
				out.Data[base+idx] = res.residual.At(f, j)
			}
		}
	}

	return out, nil
}

// processAnnulus extracts one annulus submatrix, runs the algorithm on
// it, and returns the residual with the pixel mask for scattering.
func processAnnulus(in *cube.Cube, angles []float64, cfg Config, alg Algorithm, ann geometry.Annulus, nAnnuli int, cy, cx float64) annulusResult {
	lo, hi := geometry.AnnulusBounds(ann.Index, nAnnuli, cfg.RadiusInner, cfg.AnnulusWidth)
	mask, err := geometry.AnnulusMask(in.Height, in.Width, cy, cx, lo, hi-lo)
	if err != nil {
		return annulusResult{index: ann.Index, err: err}
	}
	if len(mask) == 0 {
		return annulusResult{index: ann.Index}
	}

	size := in.FrameSize()
	sub := mat.NewDense(in.Frames, len(mask), nil)
	for f := 0; f < in.Frames; f++ {
		base := f * size
		for j, idx := range mask {
			sub.Set(f, j, in.Data[base+idx])
		}
	}

	threshold := 0.0
	if cfg.DeltaRot > 0 {
		threshold = ann.RotationThreshold
	}

	residual, err := alg.Reduce(sub, angles, threshold)
	if err != nil {
		return annulusResult{index: ann.Index, err: err}
	}
	r, c := residual.Dims()
	if r != in.Frames || c != len(mask) {
		return annulusResult{
			index: ann.Index,
			err:   fmt.Errorf("algorithm returned %dx%d residual for %dx%d input", r, c, in.Frames, len(mask)),
		}
	}

	return annulusResult{index: ann.Index, mask: mask, residual: residual}
}

// finish derotates the residual cube and collapses it into the final
// reduced frame.
func finish(residual *cube.Cube, angles []float64, cfg Config) (*mat.Dense, error) {
	derotated, err := imutil.DerotateCube(residual, angles, cfg.Workers)
	if err != nil {
		return nil, err
	}
	return derotated.Collapse(cfg.Collapse), nil
}
