// Package render exports frames and detection maps as grayscale
// images for quick inspection.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"hcipipe/pkg/cube"
)

// Frame converts a matrix to a 16 bit grayscale image. Finite values
// are scaled linearly so the smallest maps to black and the largest to
// white. NaN and infinite values render as black, and a frame with no
// spread renders as mid gray.
func Frame(m *mat.Dense) (*image.Gray16, error) {
	if m == nil {
		return nil, fmt.Errorf("nil frame")
	}
	h, w := m.Dims()

	lo := math.Inf(1)
	hi := math.Inf(-1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m.At(y, x)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: scale(m.At(y, x), lo, hi)})
		}
	}
	return img, nil
}

// scale maps v from [lo, hi] onto the full 16 bit range.
func scale(v, lo, hi float64) uint16 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if hi <= lo {
		return 32768
	}
	s := (v - lo) / (hi - lo) * 65535
	if s < 0 {
		s = 0
	}
	if s > 65535 {
		s = 65535
	}
	return uint16(s)
}

// SavePNG renders a matrix and writes it to a PNG file.
func SavePNG(m *mat.Dense, filename string) error {
	img, err := Frame(m)
	if err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveCubePNG renders every frame of a cube into numbered PNG files
// under the given directory, creating it if needed.
func SaveCubePNG(c *cube.Cube, outputDir string) error {
	if c == nil || c.Frames == 0 {
		return fmt.Errorf("empty cube")
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for f := 0; f < c.Frames; f++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("frame_%03d.png", f))
		if err := SavePNG(c.Frame(f), filename); err != nil {
			return err
		}
	}
	return nil
}
