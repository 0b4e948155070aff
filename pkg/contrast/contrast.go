package contrast

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"hcipipe/pkg/cube"
	"hcipipe/pkg/imutil"
	"hcipipe/pkg/interpolation"
	"hcipipe/pkg/reduce"
)

// ErrRadialSeparation reports a companion spacing the frame cannot
// accommodate.
var ErrRadialSeparation = errors.New("radial separation out of range")

// Config controls contrast curve estimation.
type Config struct {
	// FWHM is the resolution element diameter in pixels (required).
	FWHM float64

	// Sigma is the confidence level of the curve in Gaussian sigmas
	// (default 5).
	Sigma float64

	// NBranch is the number of azimuthal injection branches
	// (default 1).
	NBranch int

	// Theta positions the first branch, in degrees.
	Theta float64

	// InnerRad is the innermost probed separation in fwhm units
	// (default 1).
	InnerRad float64

	// FcRadSep spaces simultaneous companions along a branch, in probe
	// radii (default 3).
	FcRadSep int

	// SNRTarget scales injected companions to this ratio over the
	// local noise (default 100).
	SNRTarget float64

	// Subsample interpolates the curve onto a one pixel radial grid
	// (default true).
	Subsample bool

	// Smooth applies Savitzky-Golay smoothing to the subsampled noise
	// profile (default true).
	Smooth bool

	// SplineOrder selects the throughput interpolant: 1 piecewise
	// linear, 2 shape-preserving cubic, 3 or higher natural cubic
	// (default 2).
	SplineOrder int

	// StarPhot is the stellar flux reference. Zero means measure a
	// fwhm-diameter aperture at the center of the median-collapsed
	// input cube.
	StarPhot float64

	// Student applies the small-sample correction to the second
	// contrast column (default true). When off both columns carry the
	// Gaussian value.
	Student bool

	// Method selects the aperture pixel weighting for all photometry.
	Method imutil.ApertureMethod

	// Baseline reuses a previously reduced frame instead of reducing
	// the input cube again.
	Baseline *mat.Dense

	// Workers bounds the total number of workers, split between
	// parallel injection jobs and their inner reductions (NumCPU
	// when <= 0).
	Workers int

	// Progress, when set, is called with the completed and total job
	// counts as injection jobs finish.
	Progress func(done, total int)

	// Log receives curve notices. The zero value discards.
	Log zerolog.Logger
}

// DefaultConfig returns a Config with the standard parameter defaults.
// FWHM must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		Sigma:       5,
		NBranch:     1,
		InnerRad:    1,
		FcRadSep:    3,
		SNRTarget:   100,
		Subsample:   true,
		Smooth:      true,
		SplineOrder: 2,
		Student:     true,
	}
}

// withDefaults fills unset fields that have non-zero defaults.
func (c Config) withDefaults() Config {
	if c.Sigma <= 0 {
		c.Sigma = 5
	}
	if c.NBranch <= 0 {
		c.NBranch = 1
	}
	if c.InnerRad <= 0 {
		c.InnerRad = 1
	}
	if c.SNRTarget <= 0 {
		c.SNRTarget = 100
	}
	if c.SplineOrder <= 0 {
		c.SplineOrder = 2
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

// jobResult carries one branch/phase throughput measurement back to the
// assembler.
type jobResult struct {
	thr map[int]float64
	err error
}

// Compute estimates the achievable companion contrast of a reduction
// setup as a function of separation. It measures the background noise
// on the baseline reduced frame, plants fake companions of known flux
// branch by branch, re-reduces, and converts the recovered flux
// fraction and local noise into sigma-level contrast limits.
func Compute(c *cube.Cube, angles []float64, template *mat.Dense, alg reduce.Algorithm, rcfg reduce.Config, cfg Config) (*Curve, error) {
	cfg = cfg.withDefaults()

	if c == nil || len(c.Data) == 0 {
		return nil, fmt.Errorf("empty input cube")
	}
	if err := c.CheckAngles(angles); err != nil {
		return nil, err
	}
	if cfg.FWHM <= 0 {
		return nil, fmt.Errorf("fwhm must be positive, got %v", cfg.FWHM)
	}
	if template == nil {
		return nil, fmt.Errorf("nil psf template")
	}
	if alg == nil {
		return nil, fmt.Errorf("nil reduction algorithm")
	}

	maxSep := int(math.Floor(float64(c.Width)/(2*cfg.FWHM))) - 1
	if cfg.FcRadSep < 3 || cfg.FcRadSep > maxSep {
		return nil, fmt.Errorf("fcRadSep %d outside [3, %d]: %w", cfg.FcRadSep, maxSep, ErrRadialSeparation)
	}

	minDim := c.Height
	if c.Width < minDim {
		minDim = c.Width
	}
	half := float64(minDim) / 2

	var radii []float64
	for r := cfg.InnerRad * cfg.FWHM; r+cfg.FWHM/2 < half; r += cfg.FWHM {
		radii = append(radii, r)
	}
	if len(radii) < cfg.FcRadSep {
		return nil, fmt.Errorf("frame fits %d probe radii, need %d: %w", len(radii), cfg.FcRadSep, ErrRadialSeparation)
	}

	baseline := cfg.Baseline
	if baseline == nil {
		var err error
		baseline, err = reduce.Annular(c, angles, rcfg, alg)
		if err != nil {
			return nil, fmt.Errorf("baseline reduction: %w", err)
		}
	}

	cy, cx := imutil.FrameCenter(c.Height, c.Width)

	starphot := cfg.StarPhot
	if starphot == 0 {
		starphot = imutil.ApertureSum(c.Collapse(cube.CollapseMedian), cy, cx, cfg.FWHM/2, cfg.Method)
		cfg.Log.Info().
			Float64("starphot", starphot).
			Msg("measured star flux from the collapsed cube")
	}

	noise := make([]float64, len(radii))
	for i, r := range radii {
		noise[i] = ringNoise(baseline, cy, cx, r, cfg.FWHM, cfg.Method)
	}

	jobs := cfg.NBranch * cfg.FcRadSep
	jobWorkers := cfg.Workers
	if jobWorkers > jobs {
		jobWorkers = jobs
	}
	innerCfg := rcfg
	innerCfg.Workers = cfg.Workers / jobWorkers
	if innerCfg.Workers < 1 {
		innerCfg.Workers = 1
	}

	cfg.Log.Info().
		Int("branches", cfg.NBranch).
		Int("phases", cfg.FcRadSep).
		Int("radii", len(radii)).
		Float64("starphot", starphot).
		Msg("starting throughput injections")

	resultChan := make(chan jobResult, jobs)
	sem := make(chan struct{}, jobWorkers)
	var wg sync.WaitGroup

	for b := 0; b < cfg.NBranch; b++ {
		for p := 1; p <= cfg.FcRadSep; p++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(branch, phase int) {
				defer wg.Done()
				defer func() { <-sem }()
				resultChan <- runInjection(c, angles, template, alg, innerCfg, cfg, baseline, radii, noise, branch, phase)
			}(b, p)
		}
	}
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	sums := make([]float64, len(radii))
	done := 0
	var firstErr error
	for res := range resultChan {
		done++
		if cfg.Progress != nil {
			cfg.Progress(done, jobs)
		}
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		for k, v := range res.thr {
			sums[k] += v
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	throughput := make([]float64, len(radii))
	for k := range sums {
		throughput[k] = sums[k] / float64(cfg.NBranch)
	}

	rows := buildRows(radii, throughput, noise, starphot, cfg)

	if cfg.Subsample {
		grid, thrSamp, err := interpolation.Subsample(radii, throughput, cfg.SplineOrder)
		if err != nil {
			return nil, err
		}
		noiseSamp := make([]float64, len(grid))
		for i, r := range grid {
			noiseSamp[i] = ringNoise(baseline, cy, cx, r, cfg.FWHM, cfg.Method)
		}
		if cfg.Smooth {
			window := int(math.Round(2 * cfg.FWHM))
			if window > len(noiseSamp)-2 {
				window = len(noiseSamp) - 2
			}
			if window%2 == 0 {
				window--
			}
			if window >= 3 {
				smoothed, err := interpolation.SavGol(noiseSamp, window)
				if err != nil {
					return nil, err
				}
				noiseSamp = smoothed
			}
		}
		rows = buildRows(grid, thrSamp, noiseSamp, starphot, cfg)
	}

	return &Curve{Rows: rows}, nil
}

// runInjection plants companions along one branch at every FcRadSep-th
// probe radius starting at the phase offset, re-reduces the cube and
// measures the recovered over injected flux at each planted radius.
func runInjection(c *cube.Cube, angles []float64, template *mat.Dense, alg reduce.Algorithm, rcfg reduce.Config, cfg Config, baseline *mat.Dense, radii, noise []float64, branch, phase int) jobResult {
	branchTheta := cfg.Theta + 360*float64(branch)/float64(cfg.NBranch)

	working := c.Copy()
	truth := mat.NewDense(c.Height, c.Width, nil)

	indices := make([]int, 0, len(radii)/cfg.FcRadSep+1)
	for k := phase - 1; k < len(radii); k += cfg.FcRadSep {
		indices = append(indices, k)
		amp := cfg.SNRTarget * noise[k]
		if err := imutil.InjectCompanionCube(working, angles, template, amp, radii[k], branchTheta); err != nil {
			return jobResult{err: err}
		}
		imutil.InjectCompanion(truth, template, amp, radii[k], branchTheta)
	}

	reduced, err := reduce.Annular(working, angles, rcfg, alg)
	if err != nil {
		return jobResult{err: fmt.Errorf("branch %d phase %d: %w", branch, phase, err)}
	}

	var diff mat.Dense
	diff.Sub(reduced, baseline)

	cy, cx := imutil.FrameCenter(c.Height, c.Width)
	thr := make(map[int]float64, len(indices))
	for _, k := range indices {
		py, px := imutil.PolarPosition(cy, cx, radii[k], branchTheta)
		recovered := imutil.ApertureSum(&diff, py, px, cfg.FWHM/2, cfg.Method)
		injected := imutil.ApertureSum(truth, py, px, cfg.FWHM/2, cfg.Method)

		ratio := 0.0
		if injected != 0 {
			ratio = recovered / injected
		}
		if ratio < 0 {
			ratio = 0
		}
		thr[k] = ratio
	}
	return jobResult{thr: thr}
}

// ringNoise measures the spread of fwhm-diameter aperture fluxes along
// the ring at separation sep.
func ringNoise(frame *mat.Dense, cy, cx, sep, fwhm float64, method imutil.ApertureMethod) float64 {
	positions := imutil.RingPositions(cy, cx, sep, fwhm, 0)
	if len(positions) < 2 {
		return math.NaN()
	}
	fluxes := make([]float64, len(positions))
	for i, p := range positions {
		fluxes[i] = imutil.ApertureSum(frame, p[0], p[1], fwhm/2, method)
	}
	return stat.StdDev(fluxes, nil)
}

// buildRows applies the contrast formulas to one radial series.
func buildRows(radii, throughput, noise []float64, starphot float64, cfg Config) []Row {
	rows := make([]Row, len(radii))
	for i := range radii {
		row := Row{
			Distance:   radii[i],
			Throughput: throughput[i],
			Noise:      noise[i],
		}
		row.Contrast = contrastValue(cfg.Sigma, noise[i], throughput[i], starphot)
		if cfg.Student {
			row.ContrastCorr = contrastValue(correctedSigma(cfg.Sigma, radii[i], cfg.FWHM), noise[i], throughput[i], starphot)
		} else {
			row.ContrastCorr = row.Contrast
		}
		rows[i] = row
	}
	return rows
}

// contrastValue scales the noise by the confidence level against the
// recovered stellar flux, keeping only physically meaningful values.
func contrastValue(sigma, noise, throughput, starphot float64) float64 {
	v := sigma * noise / (throughput * starphot)
	if math.IsNaN(v) || v < 0 || v > 1 {
		return math.NaN()
	}
	return v
}

// correctedSigma converts the Gaussian confidence level into the
// equivalent Student-t level given the few resolution elements that fit
// at this separation.
func correctedSigma(sigma, r, fwhm float64) float64 {
	nu := math.Floor(2 * math.Pi * r / fwhm)
	if nu <= 1 {
		return math.NaN()
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
	return t.Quantile(distuv.UnitNormal.CDF(sigma)) * math.Sqrt(1+1/(nu-1))
}
