package cube

import (
	"math"
	"testing"
)

func TestNewValidation(t *testing.T) {
	testCases := []struct {
		name    string
		frames  int
		height  int
		width   int
		wantErr bool
	}{
		{"valid", 4, 8, 8, false},
		{"zero frames", 0, 8, 8, true},
		{"negative height", 4, -1, 8, true},
		{"zero width", 4, 8, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(tc.frames, tc.height, tc.width)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %dx%dx%d, got none", tc.frames, tc.height, tc.width)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(c.Data) != tc.frames*tc.height*tc.width {
				t.Errorf("expected data length %d, got %d", tc.frames*tc.height*tc.width, len(c.Data))
			}
		})
	}
}

func TestFromDataLengthMismatch(t *testing.T) {
	_, err := FromData(make([]float64, 10), 2, 2, 2)
	if err == nil {
		t.Error("expected error for mismatched data length, got none")
	}
}

func TestAtSetRoundTrip(t *testing.T) {
	c, err := New(3, 4, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Set(2, 3, 4, 7.5)
	if got := c.At(2, 3, 4); got != 7.5 {
		t.Errorf("expected 7.5, got %v", got)
	}
	// The flat index of the last pixel of the last frame.
	if got := c.Data[2*4*5+3*5+4]; got != 7.5 {
		t.Errorf("expected flat storage to hold 7.5, got %v", got)
	}
}

func TestFrameSharesStorage(t *testing.T) {
	c, err := New(2, 3, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := c.Frame(1)
	f.Set(2, 2, 42)

	if got := c.At(1, 2, 2); got != 42 {
		t.Errorf("expected frame view write to reach the cube, got %v", got)
	}
}

func TestMatrixLayout(t *testing.T) {
	c, err := New(2, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range c.Data {
		c.Data[i] = float64(i)
	}

	m := c.Matrix()
	rows, cols := m.Dims()
	if rows != 2 || cols != 4 {
		t.Fatalf("expected 2x4 matrix, got %dx%d", rows, cols)
	}
	if got := m.At(1, 3); got != 7 {
		t.Errorf("expected element (1,3) to be 7, got %v", got)
	}
}

func TestCopyIndependence(t *testing.T) {
	c, err := New(1, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Set(0, 0, 0, 1)

	cp := c.Copy()
	cp.Set(0, 0, 0, 99)

	if got := c.At(0, 0, 0); got != 1 {
		t.Errorf("expected original to stay 1 after copy mutation, got %v", got)
	}
}

func TestCollapse(t *testing.T) {
	c, err := New(3, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Pixel 0 sees 1, 2, 9 across frames; pixel 1 sees 4, 4, 4.
	c.Set(0, 0, 0, 1)
	c.Set(1, 0, 0, 2)
	c.Set(2, 0, 0, 9)
	c.Set(0, 0, 1, 4)
	c.Set(1, 0, 1, 4)
	c.Set(2, 0, 1, 4)

	med := c.Collapse(CollapseMedian)
	if got := med.At(0, 0); got != 2 {
		t.Errorf("expected median 2, got %v", got)
	}
	if got := med.At(0, 1); got != 4 {
		t.Errorf("expected median 4, got %v", got)
	}

	mean := c.Collapse(CollapseMean)
	if got := mean.At(0, 0); math.Abs(got-4) > 1e-12 {
		t.Errorf("expected mean 4, got %v", got)
	}
}

func TestMedian(t *testing.T) {
	testCases := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"odd count", []float64{3, 1, 2}, 2},
		{"even count", []float64{4, 1, 3, 2}, 2.5},
		{"single", []float64{5}, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Median(tc.values); got != tc.expected {
				t.Errorf("expected %v, got %v", tc.expected, got)
			}
		})
	}

	if got := Median(nil); !math.IsNaN(got) {
		t.Errorf("expected NaN for empty input, got %v", got)
	}
}

func TestMedianDoesNotModifyInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Median(values)
	if values[0] != 3 || values[1] != 1 || values[2] != 2 {
		t.Errorf("expected input to be unmodified, got %v", values)
	}
}

func TestCheckAngles(t *testing.T) {
	c, err := New(3, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.CheckAngles([]float64{0, 1, 2}); err != nil {
		t.Errorf("unexpected error for matching angles: %v", err)
	}
	if err := c.CheckAngles([]float64{0, 1}); err == nil {
		t.Error("expected error for mismatched angle count, got none")
	}
}
