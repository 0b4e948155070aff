// Package imutil provides the frame-level image operations the reduction
// and statistics pipelines consume: center lookup, bilinear sampling,
// rotation and cube derotation, circular-aperture photometry, and
// additive point-source injection. Frames are gonum dense matrices in
// row-major (y, x) order; position angles are degrees measured from the
// +x axis toward +y.
package imutil

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"hcipipe/pkg/cube"
)

// FrameCenter returns the fractional center coordinates of an h x w
// frame. Even dimensions land between pixels.
func FrameCenter(h, w int) (cy, cx float64) {
	return float64(h-1) / 2, float64(w-1) / 2
}

// PolarPosition converts a (separation, position angle) pair around a
// center into frame coordinates.
func PolarPosition(cy, cx, sep, thetaDeg float64) (y, x float64) {
	theta := thetaDeg * math.Pi / 180
	return cy + sep*math.Sin(theta), cx + sep*math.Cos(theta)
}

// Bilinear samples the frame at fractional coordinates (y, x) with
// bilinear interpolation, clamping coordinates to the frame.
func Bilinear(frame *mat.Dense, y, x float64) float64 {
	h, w := frame.Dims()

	if y < 0 {
		y = 0
	} else if y > float64(h-1) {
		y = float64(h - 1)
	}
	if x < 0 {
		x = 0
	} else if x > float64(w-1) {
		x = float64(w - 1)
	}

	y0 := int(math.Floor(y))
	y1 := y0 + 1
	if y1 > h-1 {
		y1 = h - 1
	}
	x0 := int(math.Floor(x))
	x1 := x0 + 1
	if x1 > w-1 {
		x1 = w - 1
	}
	yRatio := y - float64(y0)
	xRatio := x - float64(x0)

	p00 := frame.At(y0, x0)
	p01 := frame.At(y0, x1)
	p10 := frame.At(y1, x0)
	p11 := frame.At(y1, x1)
	interpolatedX0 := p00 + xRatio*(p01-p00)
	interpolatedX1 := p10 + xRatio*(p11-p10)
	return interpolatedX0 + yRatio*(interpolatedX1-interpolatedX0)
}

// bilinearZero samples like Bilinear but returns 0 for coordinates
// outside the frame, which is what rotation wants for pixels that
// rotate in from beyond the field of view.
func bilinearZero(frame *mat.Dense, y, x float64) float64 {
	h, w := frame.Dims()
	if y < 0 || y > float64(h-1) || x < 0 || x > float64(w-1) {
		return 0
	}
	return Bilinear(frame, y, x)
}

// Rotate returns the frame rotated counterclockwise by the given angle
// in degrees about the frame center, using inverse-mapped bilinear
// sampling with zero fill outside the field of view.
func Rotate(frame *mat.Dense, degrees float64) *mat.Dense {
	h, w := frame.Dims()
	cy, cx := FrameCenter(h, w)
	sin, cos := math.Sincos(degrees * math.Pi / 180)

	out := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		dy := float64(y) - cy
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			sx := cx + dx*cos + dy*sin
			sy := cy - dx*sin + dy*cos
			out.Set(y, x, bilinearZero(frame, sy, sx))
		}
	}
	return out
}

// DerotateCube rotates every frame of the cube by the negative of its
// parallactic angle, aligning all frames to a common sky orientation.
// Frames are processed in parallel up to the given worker count
// (NumCPU when workers <= 0).
func DerotateCube(c *cube.Cube, angles []float64, workers int) (*cube.Cube, error) {
	if err := c.CheckAngles(angles); err != nil {
		return nil, fmt.Errorf("derotating cube: %w", err)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	out := c.Copy()
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for f := 0; f < c.Frames; f++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(f int) {
			defer wg.Done()
			defer func() { <-sem }()

			rotated := Rotate(c.Frame(f), -angles[f])
			size := c.Height * c.Width
			copy(out.Data[f*size:(f+1)*size], rotated.RawMatrix().Data)
		}(f)
	}
	wg.Wait()

	return out, nil
}
