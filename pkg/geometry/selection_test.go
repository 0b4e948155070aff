package geometry

import (
	"testing"
)

func TestSelectReferenceFramesThresholdBoundaries(t *testing.T) {
	// Ten frames spanning 20 degrees, so consecutive frames are
	// separated by 2.22 degrees. With a 4 degree threshold the nearest
	// sufficiently rotated frames around target 5 are 3 and 7.
	angles := linspace(0, 20, 10)

	refs, err := SelectReferenceFrames(angles, 5, 4, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []int{2, 3, 7, 8}
	if len(refs) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, refs)
	}
	for i := range expected {
		if refs[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, refs)
		}
	}
}

func TestSelectReferenceFramesFallbackWindows(t *testing.T) {
	// A threshold larger than the total rotation forces the fallback
	// boundaries: the frame just before the target and the last frame.
	angles := linspace(0, 20, 10)

	refs, err := SelectReferenceFrames(angles, 5, 90, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []int{3, 4, 9}
	if len(refs) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, refs)
	}
	for i := range expected {
		if refs[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, refs)
		}
	}
}

func TestSelectReferenceFramesNonEmpty(t *testing.T) {
	for _, n := range []int{2, 3, 5, 10, 37} {
		angles := linspace(0, 33, n)
		for _, threshold := range []float64{0, 0.5, 5, 360} {
			for target := 0; target < n; target++ {
				refs, err := SelectReferenceFrames(angles, target, threshold, 4)
				if err != nil {
					t.Fatalf("n=%d threshold=%v target=%d: unexpected error: %v", n, threshold, target, err)
				}
				if len(refs) == 0 {
					t.Fatalf("n=%d threshold=%v target=%d: expected non-empty reference set", n, threshold, target)
				}
				for _, r := range refs {
					if r < 0 || r >= n {
						t.Fatalf("n=%d threshold=%v target=%d: index %d out of range", n, threshold, target, r)
					}
					if r == target {
						t.Fatalf("n=%d threshold=%v target=%d: reference set contains the target", n, threshold, target)
					}
				}
				for i := 1; i < len(refs); i++ {
					if refs[i] <= refs[i-1] {
						t.Fatalf("n=%d threshold=%v target=%d: references not sorted unique: %v", n, threshold, target, refs)
					}
				}
			}
		}
	}
}

func TestSelectReferenceFramesErrors(t *testing.T) {
	testCases := []struct {
		name      string
		angles    []float64
		target    int
		threshold float64
	}{
		{"single frame", []float64{0}, 0, 1},
		{"target negative", []float64{0, 1, 2}, -1, 1},
		{"target too large", []float64{0, 1, 2}, 3, 1},
		{"negative threshold", []float64{0, 1, 2}, 1, -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SelectReferenceFrames(tc.angles, tc.target, tc.threshold, 4)
			if err == nil {
				t.Error("expected error, got none")
			}
		})
	}
}

func TestSelectReferenceFramesMinWindowDefault(t *testing.T) {
	angles := linspace(0, 20, 10)

	// A non-positive minWindow falls back to the default of 4.
	got, err := SelectReferenceFrames(angles, 5, 4, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := SelectReferenceFrames(angles, 5, 4, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
