package detect

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"hcipipe/pkg/imutil"
)

// Statistic evaluates a detection figure of merit at one pixel of a
// residual frame. Implementations return NaN where the figure is
// undefined.
type Statistic func(frame *mat.Dense, y, x int, fwhm float64) float64

// Config controls detection map evaluation.
type Config struct {
	// FWHM is the resolution element diameter in pixels (required).
	FWHM float64

	// Fill is written to pixels outside the evaluable annulus.
	Fill float64

	// Workers bounds the parallel row jobs (NumCPU when <= 0).
	Workers int

	// Log receives map notices. The zero value discards.
	Log zerolog.Logger
}

// SNR computes the signal-to-noise ratio of the pixel against a ring of
// same-separation apertures. A full set of non-overlapping apertures of
// diameter fwhm is laid along the circle through (y, x) centered on the
// frame, the first centered on the pixel itself. The statistic is the
// first aperture's flux over the remaining fluxes' spread, with the
// small-sample penalty sqrt(1 + 1/(n-1)) applied to the denominator.
// It returns NaN within fwhm/2 + 1 of the frame center, where a full
// ring of apertures no longer fits.
func SNR(frame *mat.Dense, y, x int, fwhm float64) float64 {
	h, w := frame.Dims()
	cy, cx := imutil.FrameCenter(h, w)
	dy := float64(y) - cy
	dx := float64(x) - cx
	sep := math.Hypot(dy, dx)
	if sep <= fwhm/2+1 {
		return math.NaN()
	}

	phi0 := math.Atan2(dy, dx) * 180 / math.Pi
	positions := imutil.RingPositions(cy, cx, sep, fwhm, phi0)
	if len(positions) < 3 {
		return math.NaN()
	}

	fluxes := make([]float64, len(positions))
	for i, p := range positions {
		fluxes[i] = imutil.ApertureSum(frame, p[0], p[1], fwhm/2, imutil.MethodSubpixel)
	}

	rest := fluxes[1:]
	n := float64(len(rest))
	return (fluxes[0] - stat.Mean(rest, nil)) /
		(stat.StdDev(rest, nil) * math.Sqrt(1+1/n))
}

// Significance converts the pixel's S/N into a Gaussian-equivalent
// confidence level accounting for the few independent resolution
// elements available at small separations.
func Significance(frame *mat.Dense, y, x int, fwhm float64) float64 {
	h, w := frame.Dims()
	cy, cx := imutil.FrameCenter(h, w)
	sep := math.Hypot(float64(y)-cy, float64(x)-cx)
	return SNRToSignificance(SNR(frame, y, x, fwhm), sep, fwhm)
}

// SNRToSignificance maps a signal-to-noise ratio observed at the given
// separation to the Gaussian significance with identical tail
// probability under a Student-t distribution with 2*pi*sep/fwhm - 2
// degrees of freedom. It returns NaN when the degrees of freedom are
// not positive.
func SNRToSignificance(snr, sep, fwhm float64) float64 {
	nu := 2*math.Pi*sep/fwhm - 2
	if nu <= 0 || math.IsNaN(snr) {
		return math.NaN()
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
	return distuv.UnitNormal.Quantile(t.CDF(snr))
}

// SignificanceToSNR inverts SNRToSignificance at the same separation.
func SignificanceToSNR(sig, sep, fwhm float64) float64 {
	nu := 2*math.Pi*sep/fwhm - 2
	if nu <= 0 || math.IsNaN(sig) {
		return math.NaN()
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
	return t.Quantile(distuv.UnitNormal.CDF(sig))
}

// Map evaluates the statistic at every pixel of the evaluable annulus,
// from fwhm/2 + 2 out to half the smaller frame dimension minus
// 1.5 fwhm, and writes cfg.Fill everywhere else. Rows are evaluated in
// parallel; the input frame is only read.
func Map(statistic Statistic, frame *mat.Dense, cfg Config) (*mat.Dense, error) {
	if statistic == nil {
		return nil, fmt.Errorf("nil statistic")
	}
	if frame == nil {
		return nil, fmt.Errorf("empty input frame")
	}
	h, w := frame.Dims()
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("empty input frame")
	}
	if cfg.FWHM <= 0 {
		return nil, fmt.Errorf("fwhm must be positive, got %v", cfg.FWHM)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	minDim := h
	if w < minDim {
		minDim = w
	}
	rIn := cfg.FWHM/2 + 2
	rOut := float64(minDim)/2 - 1.5*cfg.FWHM

	cfg.Log.Info().
		Int("height", h).
		Int("width", w).
		Float64("inner", rIn).
		Float64("outer", rOut).
		Msg("computing detection map")

	out := mat.NewDense(h, w, nil)
	cy, cx := imutil.FrameCenter(h, w)

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for y := 0; y < h; y++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(y int) {
			defer wg.Done()
			defer func() { <-sem }()
			for x := 0; x < w; x++ {
				sep := math.Hypot(float64(y)-cy, float64(x)-cx)
				if sep < rIn || sep > rOut {
					out.Set(y, x, cfg.Fill)
					continue
				}
				out.Set(y, x, statistic(frame, y, x, cfg.FWHM))
			}
		}(y)
	}
	wg.Wait()

	return out, nil
}
