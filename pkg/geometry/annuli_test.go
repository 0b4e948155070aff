package geometry

import (
	"errors"
	"math"
	"testing"
)

// linspace returns count evenly spaced values from start to stop inclusive.
func linspace(start, stop float64, count int) []float64 {
	out := make([]float64, count)
	step := (stop - start) / float64(count-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestDefineAnnuliFormulas(t *testing.T) {
	angles := linspace(0, 20, 10)
	ann, err := DefineAnnuli(angles, nil, 8, 4, 0, 4, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ann) != 8 {
		t.Fatalf("expected 8 annuli, got %d", len(ann))
	}

	// Innermost ring: inner 0, center 2, raw threshold 90 degrees
	// clamped to 0.9 * 10.
	if got := ann[0].InnerRadius; got != 0 {
		t.Errorf("expected inner radius 0, got %v", got)
	}
	if got := ann[0].CenterRadius; got != 2 {
		t.Errorf("expected center radius 2, got %v", got)
	}
	if got := ann[0].RotationThreshold; math.Abs(got-9) > 1e-12 {
		t.Errorf("expected clamped threshold 9, got %v", got)
	}

	// Outermost ring: inner shifted one pixel in, threshold unclamped.
	if got := ann[7].InnerRadius; got != 27 {
		t.Errorf("expected inner radius 27, got %v", got)
	}
	if got := ann[7].CenterRadius; got != 29 {
		t.Errorf("expected center radius 29, got %v", got)
	}
	want := 2 * math.Atan(4.0/58.0) * 180 / math.Pi
	if got := ann[7].RotationThreshold; math.Abs(got-want) > 1e-12 {
		t.Errorf("expected threshold %v, got %v", want, got)
	}
}

func TestDefineAnnuliMonotonic(t *testing.T) {
	angles := linspace(0, 40, 20)
	ann, err := DefineAnnuli(angles, nil, 10, 4, 2, 3, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	midRange := 20.0
	for i := 1; i < len(ann); i++ {
		if ann[i].InnerRadius <= ann[i-1].InnerRadius {
			t.Errorf("inner radius not strictly increasing at %d: %v then %v",
				i, ann[i-1].InnerRadius, ann[i].InnerRadius)
		}
		if ann[i].CenterRadius <= ann[i-1].CenterRadius {
			t.Errorf("center radius not strictly increasing at %d: %v then %v",
				i, ann[i-1].CenterRadius, ann[i].CenterRadius)
		}
	}
	for _, a := range ann {
		if a.RotationThreshold > 0.9*midRange {
			t.Errorf("annulus %d threshold %v exceeds clamp %v", a.Index, a.RotationThreshold, 0.9*midRange)
		}
	}
}

func TestDefineAnnuliSubset(t *testing.T) {
	angles := linspace(0, 20, 10)
	ann, err := DefineAnnuli(angles, []int{2, 5}, 8, 4, 0, 4, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ann) != 2 {
		t.Fatalf("expected 2 annuli, got %d", len(ann))
	}
	if ann[0].Index != 2 || ann[1].Index != 5 {
		t.Errorf("expected indices 2 and 5, got %d and %d", ann[0].Index, ann[1].Index)
	}
	if got := ann[0].InnerRadius; got != 8 {
		t.Errorf("expected inner radius 8 for annulus 2, got %v", got)
	}
}

func TestDefineAnnuliErrors(t *testing.T) {
	angles := linspace(0, 20, 10)

	testCases := []struct {
		name    string
		angles  []float64
		indices []int
		nAnnuli int
		fwhm    float64
		width   float64
	}{
		{"zero width", angles, nil, 8, 4, 0},
		{"negative width", angles, nil, 8, 4, -2},
		{"zero annuli", angles, nil, 0, 4, 4},
		{"zero fwhm", angles, nil, 8, 0, 4},
		{"empty angles", nil, nil, 8, 4, 4},
		{"index out of range", angles, []int{8}, 8, 4, 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DefineAnnuli(tc.angles, tc.indices, tc.nAnnuli, tc.fwhm, 0, tc.width, 1)
			if err == nil {
				t.Error("expected error, got none")
			}
		})
	}

	_, err := DefineAnnuli(angles, nil, 8, 4, 0, 0, 1)
	if !errors.Is(err, ErrAnnulusWidth) {
		t.Errorf("expected ErrAnnulusWidth, got %v", err)
	}
}

func TestNumAnnuli(t *testing.T) {
	testCases := []struct {
		name        string
		height      int
		radiusInner float64
		width       float64
		expected    int
	}{
		{"exact", 64, 0, 4, 8},
		{"rounds up", 30, 0, 4, 4},
		{"inner offset", 64, 8, 4, 6},
		{"clamped to one", 2, 10, 4, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NumAnnuli(tc.height, tc.radiusInner, tc.width); got != tc.expected {
				t.Errorf("expected %d annuli, got %d", tc.expected, got)
			}
		})
	}
}

func TestAnnulusBoundsTiling(t *testing.T) {
	const (
		h, w        = 64, 64
		radiusInner = 0.0
		width       = 4.0
	)
	nAnnuli := NumAnnuli(h, radiusInner, width)
	cy, cx := float64(h-1)/2, float64(w-1)/2

	counts := make([]int, h*w)
	for a := 0; a < nAnnuli; a++ {
		lo, hi := AnnulusBounds(a, nAnnuli, radiusInner, width)
		mask, err := AnnulusMask(h, w, cy, cx, lo, hi-lo)
		if err != nil {
			t.Fatalf("unexpected error for annulus %d: %v", a, err)
		}
		for _, idx := range mask {
			counts[idx]++
		}
	}

	maxRadius := radiusInner + float64(nAnnuli)*width
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := math.Hypot(float64(y)-cy, float64(x)-cx)
			c := counts[y*w+x]
			switch {
			case d >= radiusInner && d < maxRadius:
				if c != 1 {
					t.Fatalf("pixel (%d,%d) at radius %.2f covered %d times, expected exactly once", y, x, d, c)
				}
			case d >= maxRadius:
				if c != 0 {
					t.Fatalf("pixel (%d,%d) at radius %.2f outside partition covered %d times", y, x, d, c)
				}
			}
		}
	}
}

func TestAnnulusBoundsLastRing(t *testing.T) {
	lo, hi := AnnulusBounds(7, 8, 0, 4)
	if lo != 27 {
		t.Errorf("expected last ring to start at 27, got %v", lo)
	}
	if hi != 32 {
		t.Errorf("expected last ring to end at 32, got %v", hi)
	}

	lo, hi = AnnulusBounds(6, 8, 0, 4)
	if lo != 24 || hi != 27 {
		t.Errorf("expected second-to-last ring [24, 27), got [%v, %v)", lo, hi)
	}
}

func TestAnnulusMaskWidthError(t *testing.T) {
	_, err := AnnulusMask(16, 16, 7.5, 7.5, 4, 0)
	if !errors.Is(err, ErrAnnulusWidth) {
		t.Errorf("expected ErrAnnulusWidth, got %v", err)
	}
}

func TestAnnulusMaskRadialMembership(t *testing.T) {
	const h, w = 32, 32
	cy, cx := float64(h-1)/2, float64(w-1)/2
	mask, err := AnnulusMask(h, w, cy, cx, 5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mask) == 0 {
		t.Fatal("expected non-empty mask")
	}
	for _, idx := range mask {
		y, x := idx/w, idx%w
		d := math.Hypot(float64(y)-cy, float64(x)-cx)
		if d < 5 || d >= 8 {
			t.Errorf("pixel (%d,%d) at radius %.3f outside [5, 8)", y, x, d)
		}
	}
}
