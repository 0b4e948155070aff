// Package cube provides the in-memory representation of an angular
// differential imaging data set: a stack of equally sized frames taken
// while the field of view rotates, stored as a single flat float64
// array in frame-major, row-major order.
//
// All processing in this module is carried out in float64. The element
// type is fixed here, at the top of the pipeline, and never inferred
// from inputs further down.
package cube

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Cube holds a sequence of frames as a 3D array flattened to 1D.
type Cube struct {
	// Data is the pixel data in frame-major, row-major order, so the
	// value of pixel (y, x) in frame f lives at f*Height*Width + y*Width + x.
	Data []float64

	// Frames is the number of frames in the sequence.
	Frames int

	// Height is the number of pixel rows per frame.
	Height int

	// Width is the number of pixel columns per frame.
	Width int
}

// CollapseMode selects how a cube is combined along the frame axis.
type CollapseMode int

const (
	// CollapseMedian takes the per-pixel median across frames.
	CollapseMedian CollapseMode = iota

	// CollapseMean takes the per-pixel mean across frames.
	CollapseMean
)

// New allocates a zero-filled cube with the given dimensions.
func New(frames, height, width int) (*Cube, error) {
	if frames <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("cube dimensions must be positive, got %dx%dx%d", frames, height, width)
	}
	return &Cube{
		Data:   make([]float64, frames*height*width),
		Frames: frames,
		Height: height,
		Width:  width,
	}, nil
}

// FromData wraps an existing flat array as a cube without copying.
// The array length must equal frames*height*width.
func FromData(data []float64, frames, height, width int) (*Cube, error) {
	if frames <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("cube dimensions must be positive, got %dx%dx%d", frames, height, width)
	}
	if len(data) != frames*height*width {
		return nil, fmt.Errorf("data length %d does not match dimensions %dx%dx%d", len(data), frames, height, width)
	}
	return &Cube{Data: data, Frames: frames, Height: height, Width: width}, nil
}

// FrameSize returns the number of pixels in a single frame.
func (c *Cube) FrameSize() int {
	return c.Height * c.Width
}

// At returns the value of pixel (y, x) in frame f.
func (c *Cube) At(f, y, x int) float64 {
	return c.Data[f*c.Height*c.Width+y*c.Width+x]
}

// Set assigns the value of pixel (y, x) in frame f.
func (c *Cube) Set(f, y, x int, v float64) {
	c.Data[f*c.Height*c.Width+y*c.Width+x] = v
}

// Frame returns frame f as a Height x Width dense matrix sharing the
// cube's storage. Writes through the returned matrix modify the cube.
func (c *Cube) Frame(f int) *mat.Dense {
	size := c.Height * c.Width
	return mat.NewDense(c.Height, c.Width, c.Data[f*size:(f+1)*size])
}

// Matrix returns the cube as a Frames x (Height*Width) dense matrix
// sharing the cube's storage, with one flattened frame per row. This is
// the layout the decomposition algorithms operate on.
func (c *Cube) Matrix() *mat.Dense {
	return mat.NewDense(c.Frames, c.Height*c.Width, c.Data)
}

// Copy returns a deep copy of the cube.
func (c *Cube) Copy() *Cube {
	data := make([]float64, len(c.Data))
	copy(data, c.Data)
	return &Cube{Data: data, Frames: c.Frames, Height: c.Height, Width: c.Width}
}

// Collapse combines the cube along the frame axis into a single frame.
func (c *Cube) Collapse(mode CollapseMode) *mat.Dense {
	size := c.Height * c.Width
	out := make([]float64, size)

	switch mode {
	case CollapseMean:
		for f := 0; f < c.Frames; f++ {
			base := f * size
			for j := 0; j < size; j++ {
				out[j] += c.Data[base+j]
			}
		}
		n := float64(c.Frames)
		for j := range out {
			out[j] /= n
		}
	default:
		// Median collapse. The scratch buffer is reused across pixels.
		column := make([]float64, c.Frames)
		for j := 0; j < size; j++ {
			for f := 0; f < c.Frames; f++ {
				column[f] = c.Data[f*size+j]
			}
			out[j] = Median(column)
		}
	}

	return mat.NewDense(c.Height, c.Width, out)
}

// MedianFrame computes the per-pixel median frame of the cube. It is
// the model frame classical ADI subtraction removes from every frame.
func (c *Cube) MedianFrame() *mat.Dense {
	return c.Collapse(CollapseMedian)
}

// Median calculates the median of a float64 slice without modifying it.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}

	valuesCopy := make([]float64, n)
	copy(valuesCopy, values)
	sort.Float64s(valuesCopy)

	if n%2 == 0 {
		return (valuesCopy[n/2-1] + valuesCopy[n/2]) / 2
	}
	return valuesCopy[n/2]
}

// CheckAngles validates that the parallactic angle list matches the
// cube's frame count.
func (c *Cube) CheckAngles(angles []float64) error {
	if len(angles) != c.Frames {
		return fmt.Errorf("got %d parallactic angles for %d frames", len(angles), c.Frames)
	}
	return nil
}
