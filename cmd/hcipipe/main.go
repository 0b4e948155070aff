package main

import (
	"bytes"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"hcipipe/pkg/config"
	"hcipipe/pkg/contrast"
	"hcipipe/pkg/cube"
	"hcipipe/pkg/detect"
	"hcipipe/pkg/imutil"
	"hcipipe/pkg/psf"
	"hcipipe/pkg/reduce"
	"hcipipe/pkg/render"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "hcipipe.yaml", "Path to the YAML configuration file")
	initConfig := flag.Bool("init", false, "Write the default configuration to the -config path and exit")
	frames := flag.Int("frames", 10, "Number of frames in the synthetic sequence")
	size := flag.Int("size", 64, "Frame width and height in pixels")
	span := flag.Float64("span", 40, "Total parallactic rotation of the sequence in degrees")
	seed := flag.Uint64("seed", 1, "Seed for the synthetic noise generator")
	companion := flag.Float64("companion", 60, "Peak flux of the planted companion (0 disables it)")
	sep := flag.Float64("sep", 16, "Separation of the planted companion in pixels")
	curveOut := flag.String("output", "", "Contrast curve CSV path (overrides the configuration)")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	if !cfg.Output.Verbose {
		logger = logger.Level(zerolog.WarnLevel)
	}

	if *frames < 2 {
		logger.Fatal().Int("frames", *frames).Msg("need at least 2 frames")
	}

	fmt.Println("================================")
	fmt.Println("HCIPIPE: ADI PSF SUBTRACTION, DETECTION MAPS AND CONTRAST CURVES")
	fmt.Println("================================")

	fwhm := cfg.Reduction.FWHM
	template, err := psf.Gaussian(11, fwhm, psf.NormPeak)
	if err != nil {
		logger.Fatal().Err(err).Msg("building psf template failed")
	}

	scene, angles, err := buildScene(*frames, *size, *span, fwhm, *companion, *sep, *seed, template)
	if err != nil {
		logger.Fatal().Err(err).Msg("building synthetic scene failed")
	}
	fmt.Printf("Synthesized %d frames of %dx%d pixels over %.1f degrees of rotation\n",
		*frames, *size, *size, *span)
	if *companion > 0 {
		fmt.Printf("Planted a companion of peak flux %.1f at %.1f pixels\n", *companion, *sep)
	}

	mode, err := collapseMode(cfg.Reduction.Collapse)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	alg, err := buildAlgorithm(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	statistic, err := buildStatistic(cfg.Detection.Statistic)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	rcfg := reduce.Config{
		FWHM:         fwhm,
		AnnulusWidth: cfg.Reduction.AnnulusWidth,
		RadiusInner:  cfg.Reduction.RadiusInner,
		DeltaRot:     cfg.Reduction.DeltaRot,
		MinFrames:    cfg.Reduction.MinFrames,
		Collapse:     mode,
		Workers:      cfg.Reduction.Workers,
		Log:          logger,
	}

	fmt.Printf("\nReducing with the %s algorithm...\n", cfg.Algorithm.Name)
	startTime := time.Now()
	reduced, err := reduce.Annular(scene, angles, rcfg, alg)
	if err != nil {
		logger.Fatal().Err(err).Msg("reduction failed")
	}
	fmt.Printf("Reduction completed in %.2f seconds\n", time.Since(startTime).Seconds())

	dmap, err := detect.Map(statistic, reduced, detect.Config{
		FWHM:    fwhm,
		Fill:    cfg.Detection.Fill,
		Workers: cfg.Reduction.Workers,
		Log:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("detection map failed")
	}

	peak, py, px := peakOf(dmap)
	fmt.Printf("Peak %s of %.2f at pixel (%d, %d)\n", cfg.Detection.Statistic, peak, py, px)

	if cfg.Output.MapPath != "" {
		if err := writeFrameCSV(cfg.Output.MapPath, dmap); err != nil {
			logger.Fatal().Err(err).Msg("writing detection map failed")
		}
		fmt.Printf("Detection map saved to: %s\n", cfg.Output.MapPath)
	}
	if cfg.Output.ImagePath != "" {
		if err := render.SavePNG(dmap, cfg.Output.ImagePath); err != nil {
			logger.Fatal().Err(err).Msg("rendering detection map failed")
		}
		fmt.Printf("Detection map image saved to: %s\n", cfg.Output.ImagePath)
	}

	ccfg := contrast.Config{
		FWHM:        fwhm,
		Sigma:       cfg.Contrast.Sigma,
		NBranch:     cfg.Contrast.NBranch,
		Theta:       cfg.Contrast.Theta,
		InnerRad:    cfg.Contrast.InnerRad,
		FcRadSep:    cfg.Contrast.FcRadSep,
		SNRTarget:   cfg.Contrast.SNRTarget,
		Subsample:   cfg.Contrast.Subsample,
		Smooth:      cfg.Contrast.Smooth,
		SplineOrder: cfg.Contrast.SplineOrder,
		StarPhot:    cfg.Contrast.StarPhot,
		Student:     true,
		Baseline:    reduced,
		Workers:     cfg.Reduction.Workers,
		Progress: func(done, total int) {
			logger.Info().Int("done", done).Int("total", total).Msg("injection job finished")
		},
		Log: logger,
	}

	fmt.Printf("\nMeasuring the contrast curve (%d branches, %d phases)...\n",
		ccfg.NBranch, ccfg.FcRadSep)
	startTime = time.Now()
	curve, err := contrast.Compute(scene, angles, template, alg, rcfg, ccfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("contrast curve failed")
	}
	fmt.Printf("Contrast curve completed in %.2f seconds\n", time.Since(startTime).Seconds())

	curvePath := cfg.Output.CurvePath
	if *curveOut != "" {
		curvePath = *curveOut
	}
	var buf bytes.Buffer
	if err := curve.WriteCSV(&buf); err != nil {
		logger.Fatal().Err(err).Msg("encoding contrast curve failed")
	}
	if err := os.WriteFile(curvePath, buf.Bytes(), 0644); err != nil {
		logger.Fatal().Err(err).Msg("writing contrast curve failed")
	}

	fmt.Printf("\nContrast curve with %d samples saved to: %s\n", len(curve.Rows), curvePath)
	if len(curve.Rows) > 0 {
		first, last := curve.Rows[0], curve.Rows[len(curve.Rows)-1]
		fmt.Printf("- %.1f px: %.2e contrast at throughput %.2f\n", first.Distance, first.Contrast, first.Throughput)
		fmt.Printf("- %.1f px: %.2e contrast at throughput %.2f\n", last.Distance, last.Contrast, last.Throughput)
	}
}

// buildScene synthesizes an ADI sequence: a static Gaussian star over
// seeded noise, optionally with a companion rotating through the
// parallactic angles.
func buildScene(frames, size int, span, fwhm, companion, sep float64, seed uint64, template *mat.Dense) (*cube.Cube, []float64, error) {
	c, err := cube.New(frames, size, size)
	if err != nil {
		return nil, nil, err
	}

	angles := make([]float64, frames)
	for i := range angles {
		angles[i] = span * float64(i) / float64(frames-1)
	}

	star, err := psf.Gaussian(size, fwhm, psf.NormPeak)
	if err != nil {
		return nil, nil, err
	}

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	for f := 0; f < frames; f++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				c.Set(f, y, x, 1000*star.At(y, x)+normal.Rand())
			}
		}
	}

	if companion > 0 {
		if err := imutil.InjectCompanionCube(c, angles, template, companion, sep, 0); err != nil {
			return nil, nil, err
		}
	}
	return c, angles, nil
}

// buildAlgorithm maps the configured name to a reduction algorithm.
func buildAlgorithm(cfg *config.Config, logger zerolog.Logger) (reduce.Algorithm, error) {
	switch cfg.Algorithm.Name {
	case "median":
		return reduce.MedianModel{MinFrames: cfg.Reduction.MinFrames}, nil
	case "pca":
		return reduce.PCA{
			Components: cfg.Algorithm.Components,
			PRatio:     cfg.Algorithm.PRatio,
			Truncated:  cfg.Algorithm.Truncated,
			MinFrames:  cfg.Reduction.MinFrames,
			Log:        logger,
		}, nil
	}
	return nil, fmt.Errorf("unknown algorithm %q", cfg.Algorithm.Name)
}

// buildStatistic maps the configured name to a detection statistic.
func buildStatistic(name string) (detect.Statistic, error) {
	switch name {
	case "snr":
		return detect.SNR, nil
	case "significance":
		return detect.Significance, nil
	}
	return nil, fmt.Errorf("unknown statistic %q", name)
}

// collapseMode maps the configured name to a collapse mode.
func collapseMode(name string) (cube.CollapseMode, error) {
	switch name {
	case "", "median":
		return cube.CollapseMedian, nil
	case "mean":
		return cube.CollapseMean, nil
	}
	return 0, fmt.Errorf("unknown collapse mode %q", name)
}

// peakOf returns the largest finite value of the map and its position.
func peakOf(m *mat.Dense) (float64, int, int) {
	h, w := m.Dims()
	best := math.Inf(-1)
	var by, bx int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m.At(y, x)
			if !math.IsNaN(v) && !math.IsInf(v, 0) && v > best {
				best, by, bx = v, y, x
			}
		}
	}
	return best, by, bx
}

// writeFrameCSV writes a matrix as comma separated rows.
func writeFrameCSV(path string, m *mat.Dense) error {
	var buf bytes.Buffer
	h, w := m.Dims()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(&buf, "%g", m.At(y, x))
		}
		buf.WriteByte('\n')
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
