package imutil

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ApertureMethod selects the pixel-weighting rule for circular-aperture
// photometry.
type ApertureMethod int

const (
	// MethodSubpixel weights each pixel by the fraction of a 10x10
	// subpixel grid whose centers fall inside the aperture.
	MethodSubpixel ApertureMethod = iota

	// MethodCenter includes a pixel fully when its center is inside
	// the aperture and not at all otherwise.
	MethodCenter
)

// subpixelGrid is the per-axis subdivision used by MethodSubpixel.
const subpixelGrid = 10

// ApertureSum computes the total flux inside a circular aperture of the
// given radius centered at (cy, cx). Pixels outside the frame contribute
// nothing.
func ApertureSum(frame *mat.Dense, cy, cx, r float64, method ApertureMethod) float64 {
	h, w := frame.Dims()

	yMin := int(math.Floor(cy - r))
	yMax := int(math.Ceil(cy + r))
	xMin := int(math.Floor(cx - r))
	xMax := int(math.Ceil(cx + r))
	if yMin < 0 {
		yMin = 0
	}
	if xMin < 0 {
		xMin = 0
	}
	if yMax > h-1 {
		yMax = h - 1
	}
	if xMax > w-1 {
		xMax = w - 1
	}

	sum := 0.0
	for y := yMin; y <= yMax; y++ {
		for x := xMin; x <= xMax; x++ {
			weight := pixelWeight(float64(y)-cy, float64(x)-cx, r, method)
			if weight > 0 {
				sum += weight * frame.At(y, x)
			}
		}
	}
	return sum
}

// pixelWeight returns the fraction of the pixel at offset (dy, dx) from
// the aperture center that counts toward the aperture.
func pixelWeight(dy, dx, r float64, method ApertureMethod) float64 {
	if method == MethodCenter {
		if dy*dy+dx*dx <= r*r {
			return 1
		}
		return 0
	}

	// Quick accept/reject by the pixel corner distances before paying
	// for the subpixel grid.
	half := 0.5
	nearest := math.Hypot(math.Max(0, math.Abs(dy)-half), math.Max(0, math.Abs(dx)-half))
	if nearest > r {
		return 0
	}
	farthest := math.Hypot(math.Abs(dy)+half, math.Abs(dx)+half)
	if farthest <= r {
		return 1
	}

	inside := 0
	step := 1.0 / subpixelGrid
	r2 := r * r
	for i := 0; i < subpixelGrid; i++ {
		sy := dy - half + (float64(i)+0.5)*step
		for j := 0; j < subpixelGrid; j++ {
			sx := dx - half + (float64(j)+0.5)*step
			if sy*sy+sx*sx <= r2 {
				inside++
			}
		}
	}
	return float64(inside) / (subpixelGrid * subpixelGrid)
}

// RingPositions returns the centers of the maximal set of non-overlapping
// apertures of diameter fwhm that fit along the circle of radius sep
// around (cy, cx), starting at position angle phi0 in degrees. It returns
// nil when the separation is too small to fit more than one aperture.
func RingPositions(cy, cx, sep, fwhm, phi0 float64) [][2]float64 {
	if sep <= fwhm/2 {
		return nil
	}

	step := 2 * math.Asin(fwhm/2/sep)
	n := int(math.Floor(2 * math.Pi / step))
	if n < 2 {
		return nil
	}

	start := phi0 * math.Pi / 180
	positions := make([][2]float64, n)
	for i := 0; i < n; i++ {
		angle := start + float64(i)*step
		positions[i] = [2]float64{cy + sep*math.Sin(angle), cx + sep*math.Cos(angle)}
	}
	return positions
}
