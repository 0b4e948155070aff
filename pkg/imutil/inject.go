package imutil

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"hcipipe/pkg/cube"
)

// InjectCompanion adds a point source to the frame at the given
// separation and position angle from the frame center. The PSF template
// is scaled by amp and placed with subpixel accuracy by bilinear
// resampling; template flux falling outside the frame is dropped.
func InjectCompanion(frame *mat.Dense, template *mat.Dense, amp, sep, thetaDeg float64) {
	h, w := frame.Dims()
	cy, cx := FrameCenter(h, w)
	y, x := PolarPosition(cy, cx, sep, thetaDeg)
	placeTemplate(frame, template, amp, y, x)
}

// InjectCompanionCube adds the same companion to every frame of the
// cube, offsetting its position angle by each frame's parallactic angle
// so the source lands at thetaDeg once the cube is derotated.
func InjectCompanionCube(c *cube.Cube, angles []float64, template *mat.Dense, amp, sep, thetaDeg float64) error {
	if err := c.CheckAngles(angles); err != nil {
		return fmt.Errorf("injecting companions: %w", err)
	}
	for f := 0; f < c.Frames; f++ {
		InjectCompanion(c.Frame(f), template, amp, sep, thetaDeg+angles[f])
	}
	return nil
}

// placeTemplate adds amp*template to the frame with the template center
// at fractional frame coordinates (py, px).
func placeTemplate(frame *mat.Dense, template *mat.Dense, amp, py, px float64) {
	h, w := frame.Dims()
	th, tw := template.Dims()
	tcy, tcx := FrameCenter(th, tw)

	yMin := int(math.Floor(py - tcy))
	yMax := int(math.Ceil(py + float64(th-1) - tcy))
	xMin := int(math.Floor(px - tcx))
	xMax := int(math.Ceil(px + float64(tw-1) - tcx))
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

	for y := yMin; y <= yMax; y++ {
		ty := float64(y) - py + tcy
		for x := xMin; x <= xMax; x++ {
			tx := float64(x) - px + tcx
			if ty < 0 || ty > float64(th-1) || tx < 0 || tx > float64(tw-1) {
				continue
			}
			frame.Set(y, x, frame.At(y, x)+amp*Bilinear(template, ty, tx))
		}
	}
}
