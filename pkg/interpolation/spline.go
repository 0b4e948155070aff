package interpolation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
)

// Subsample fits a spline of the given order through the sample points
// and evaluates it on the unit-spaced grid covering
// [xs[0], xs[len(xs)-1]+1). Order 1 fits a piecewise linear
// interpolant, order 2 a shape-preserving cubic and order 3 or higher a
// natural cubic spline. The sample abscissas must be strictly
// increasing.
func Subsample(xs, ys []float64, order int) (grid, values []float64, err error) {
	if len(xs) != len(ys) {
		return nil, nil, fmt.Errorf("got %d sample values for %d positions", len(ys), len(xs))
	}
	if len(xs) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 samples, got %d", len(xs))
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return nil, nil, fmt.Errorf("sample positions must be strictly increasing")
		}
	}
	if order < 1 {
		return nil, nil, fmt.Errorf("spline order must be at least 1, got %d", order)
	}

	var fitter interp.FittablePredictor
	switch {
	case order == 1:
		fitter = &interp.PiecewiseLinear{}
	case order == 2:
		fitter = &interp.FritschButland{}
	default:
		fitter = &interp.NaturalCubic{}
	}
	if err := fitter.Fit(xs, ys); err != nil {
		return nil, nil, fmt.Errorf("fitting order-%d spline: %v", order, err)
	}

	first := xs[0]
	limit := xs[len(xs)-1] + 1
	count := int(math.Ceil(limit - first))
	grid = make([]float64, 0, count)
	values = make([]float64, 0, count)
	for i := 0; ; i++ {
		x := first + float64(i)
		if x >= limit {
			break
		}
		grid = append(grid, x)
		values = append(values, fitter.Predict(x))
	}
	return grid, values, nil
}

// SavGol smooths the sequence with a quadratic Savitzky-Golay filter of
// the given window size. The window must be odd, at least 3 and no
// larger than the sequence; positions whose window extends past either
// boundary reuse the nearest edge sample. The input is not modified.
func SavGol(ys []float64, window int) ([]float64, error) {
	if window < 3 || window%2 == 0 {
		return nil, fmt.Errorf("window must be odd and at least 3, got %d", window)
	}
	if window > len(ys) {
		return nil, fmt.Errorf("window %d exceeds sequence length %d", window, len(ys))
	}

	coeffs := savGolCoeffs(window)
	half := window / 2
	out := make([]float64, len(ys))
	for t := range ys {
		var acc float64
		for j := 0; j < window; j++ {
			idx := t - half + j
			if idx < 0 {
				idx = 0
			} else if idx >= len(ys) {
				idx = len(ys) - 1
			}
			acc += coeffs[j] * ys[idx]
		}
		out[t] = acc
	}
	return out, nil
}

// savGolCoeffs solves the quadratic least-squares design for the window
// and returns the convolution coefficients, the first row of the
// pseudoinverse of the Vandermonde design matrix.
func savGolCoeffs(window int) []float64 {
	half := window / 2
	design := mat.NewDense(window, 3, nil)
	for i := 0; i < window; i++ {
		x := float64(i - half)
		design.Set(i, 0, 1)
		design.Set(i, 1, x)
		design.Set(i, 2, x*x)
	}

	var gram mat.Dense
	gram.Mul(design.T(), design)
	var inv mat.Dense
	// The Gram matrix of a 3-column Vandermonde design over 3 or more
	// distinct abscissas is nonsingular.
	if err := inv.Inverse(&gram); err != nil {
		panic(fmt.Sprintf("interpolation: singular design matrix for window %d: %v", window, err))
	}

	var proj mat.Dense
	proj.Mul(&inv, design.T())
	coeffs := make([]float64, window)
	copy(coeffs, proj.RawRowView(0))
	return coeffs
}
