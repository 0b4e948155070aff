package contrast

import (
	"fmt"
	"io"
)

// Row is one radial sample of a contrast curve.
type Row struct {
	// Distance is the separation from the frame center in pixels.
	Distance float64

	// Throughput is the mean recovered flux fraction of companions
	// injected at this separation.
	Throughput float64

	// Contrast is the Gaussian sigma-level contrast limit, NaN where
	// undefined.
	Contrast float64

	// ContrastCorr is the contrast limit with the small-sample
	// Student-t correction applied.
	ContrastCorr float64

	// Noise is the spread of aperture fluxes along the ring at this
	// separation.
	Noise float64
}

// Curve is a radial sensitivity profile ordered by ascending distance.
type Curve struct {
	// Rows holds one sample per probed separation.
	Rows []Row
}

// WriteCSV writes the curve to w with a header row.
func (c *Curve) WriteCSV(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "distance,throughput,contrast,contrast_corr,noise"); err != nil {
		return err
	}
	for _, row := range c.Rows {
		_, err := fmt.Fprintf(w, "%g,%g,%g,%g,%g\n",
			row.Distance, row.Throughput, row.Contrast, row.ContrastCorr, row.Noise)
		if err != nil {
			return err
		}
	}
	return nil
}
