// Package geometry implements the annulus partitioning and reference-frame
// selection rules used by angular differential imaging. An annulus is the
// unit of independent processing: the partitioner assigns every pixel inside
// the processed radius to exactly one ring, and attaches to each ring the
// parallactic-angle rejection threshold that decides which frames are
// sufficiently rotated to serve as PSF references at that separation.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrAnnulusWidth indicates a non-positive annulus width in a request.
var ErrAnnulusWidth = errors.New("annulus width must be positive")

// Annulus describes one ring of the partition.
type Annulus struct {
	// Index is the annulus position, 0 closest to the center.
	Index int

	// InnerRadius is the inner edge in pixels. The outermost annulus
	// starts one pixel early so the partition reaches the nominal outer
	// edge without leaving a gap.
	InnerRadius float64

	// CenterRadius is the middle of the ring, InnerRadius + width/2.
	CenterRadius float64

	// RotationThreshold is the minimum parallactic rotation in degrees
	// a frame must have relative to the target frame to serve as a PSF
	// reference at this separation.
	RotationThreshold float64
}

// DefineAnnuli computes the descriptors of the requested annuli for a
// partition of nAnnuli rings of the given width starting at radiusInner.
// A nil indices slice requests all annuli in order.
//
// The rotation threshold of a ring is the angle under which an object at
// the ring center moves by deltaRot*fwhm pixels, clamped to 90% of half
// the total angular range so small separations cannot reject every frame.
func DefineAnnuli(angles []float64, indices []int, nAnnuli int, fwhm, radiusInner, width, deltaRot float64) ([]Annulus, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w, got %v", ErrAnnulusWidth, width)
	}
	if nAnnuli <= 0 {
		return nil, fmt.Errorf("number of annuli must be positive, got %d", nAnnuli)
	}
	if fwhm <= 0 {
		return nil, fmt.Errorf("fwhm must be positive, got %v", fwhm)
	}
	if len(angles) == 0 {
		return nil, fmt.Errorf("empty parallactic angle list")
	}

	if indices == nil {
		indices = make([]int, nAnnuli)
		for i := range indices {
			indices[i] = i
		}
	}

	midRange := math.Abs(floats.Max(angles)-floats.Min(angles)) / 2

	out := make([]Annulus, len(indices))
	for i, a := range indices {
		if a < 0 || a >= nAnnuli {
			return nil, fmt.Errorf("annulus index %d out of range [0, %d)", a, nAnnuli)
		}

		inner := radiusInner + float64(a)*width
		if a == nAnnuli-1 {
			inner--
		}
		center := inner + width/2

		threshold := 2 * math.Atan(deltaRot*fwhm/(2*center)) * 180 / math.Pi
		if clamp := 0.9 * midRange; threshold > clamp {
			threshold = clamp
		}

		out[i] = Annulus{
			Index:             a,
			InnerRadius:       inner,
			CenterRadius:      center,
			RotationThreshold: threshold,
		}
	}

	return out, nil
}

// AnnulusBounds returns the half-open radial interval [lo, hi) of pixels
// belonging to annulus a in a partition of nAnnuli rings. Consecutive
// intervals tile [radiusInner, radiusInner+nAnnuli*width) with no gaps
// and no overlap: the outermost ring absorbs the one-pixel inward shift
// of its inner radius from the ring before it.
func AnnulusBounds(a, nAnnuli int, radiusInner, width float64) (lo, hi float64) {
	lo = radiusInner + float64(a)*width
	hi = radiusInner + float64(a+1)*width
	if a == nAnnuli-1 {
		lo--
	}
	if a == nAnnuli-2 {
		hi--
	}
	return lo, hi
}

// NumAnnuli returns the ring count for frames of the given height:
// round((height/2 - radiusInner) / width), at least 1.
func NumAnnuli(height int, radiusInner, width float64) int {
	n := int(math.Round((float64(height)/2 - radiusInner) / width))
	if n < 1 {
		n = 1
	}
	return n
}

// AnnulusMask returns the flat row-major indices of the pixels of an
// h x w frame whose distance from (cy, cx) lies in [rIn, rIn+width).
// The mask depends only on the frame geometry, so it is computed once
// per annulus and reused across all frames of a cube.
func AnnulusMask(h, w int, cy, cx, rIn, width float64) ([]int, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w, got %v", ErrAnnulusWidth, width)
	}

	var mask []int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := math.Hypot(float64(y)-cy, float64(x)-cx)
			if d >= rIn && d < rIn+width {
				mask = append(mask, y*w+x)
			}
		}
	}
	return mask, nil
}
