// Package psf synthesizes point-spread-function templates for companion
// injection and testing. Gaussian and Moffat profiles cover the usual
// ground-based PSF shapes.
package psf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// sigmaToFWHM converts a Gaussian sigma to its full width at half
// maximum.
var sigmaToFWHM = 2 * math.Sqrt(2*math.Log(2))

// Normalization selects how a synthesized template is scaled.
type Normalization int

const (
	// NormPeak scales the template so its maximum value is 1, making
	// injection amplitudes peak counts.
	NormPeak Normalization = iota

	// NormSum scales the template so its total flux is 1, making
	// injection amplitudes integrated counts.
	NormSum
)

// Gaussian returns a size x size circular Gaussian template with the
// given full width at half maximum in pixels.
func Gaussian(size int, fwhm float64, norm Normalization) (*mat.Dense, error) {
	if size <= 0 {
		return nil, fmt.Errorf("template size must be positive, got %d", size)
	}
	if fwhm <= 0 {
		return nil, fmt.Errorf("fwhm must be positive, got %v", fwhm)
	}

	sigma := fwhm / sigmaToFWHM
	c := float64(size-1) / 2

	out := mat.NewDense(size, size, nil)
	for y := 0; y < size; y++ {
		dy := float64(y) - c
		for x := 0; x < size; x++ {
			dx := float64(x) - c
			out.Set(y, x, math.Exp(-(dy*dy+dx*dx)/(2*sigma*sigma)))
		}
	}

	normalize(out, norm)
	return out, nil
}

// Moffat returns a size x size Moffat template with the given full width
// at half maximum in pixels and shape parameter beta. Beta around 4
// matches typical atmospheric seeing wings.
func Moffat(size int, fwhm, beta float64, norm Normalization) (*mat.Dense, error) {
	if size <= 0 {
		return nil, fmt.Errorf("template size must be positive, got %d", size)
	}
	if fwhm <= 0 {
		return nil, fmt.Errorf("fwhm must be positive, got %v", fwhm)
	}
	if beta <= 0 {
		return nil, fmt.Errorf("beta must be positive, got %v", beta)
	}

	alpha := fwhm / (2 * math.Sqrt(math.Pow(2, 1/beta)-1))
	c := float64(size-1) / 2

	out := mat.NewDense(size, size, nil)
	for y := 0; y < size; y++ {
		dy := float64(y) - c
		for x := 0; x < size; x++ {
			dx := float64(x) - c
			r2 := (dy*dy + dx*dx) / (alpha * alpha)
			out.Set(y, x, math.Pow(1+r2, -beta))
		}
	}

	normalize(out, norm)
	return out, nil
}

func normalize(m *mat.Dense, norm Normalization) {
	data := m.RawMatrix().Data

	var scale float64
	switch norm {
	case NormSum:
		scale = floats.Sum(data)
	default:
		scale = floats.Max(data)
	}
	if scale == 0 {
		return
	}
	floats.Scale(1/scale, data)
}
