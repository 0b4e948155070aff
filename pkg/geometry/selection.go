package geometry

import (
	"fmt"
	"math"
	"sort"
)

// SelectReferenceFrames picks the PSF reference frames for a target frame
// from a sequence of parallactic angles.
//
// Scanning backward from target-1, the most recent frame whose angular
// separation from the target exceeds threshold fixes the previous
// boundary (target-1 when none does); scanning forward from the target,
// the first such frame fixes the following boundary (the last frame when
// none does). The reference set is the union of the minWindow/2 frames
// ending at the previous boundary and the minWindow/2 frames starting at
// the following boundary, clipped to the valid index range and never
// containing the target itself. The result is sorted, deduplicated, and
// non-empty for any sequence of at least two frames.
//
// Callers that want the full frame set at threshold zero handle that
// case themselves; this rule always applies the window logic.
func SelectReferenceFrames(angles []float64, target int, threshold float64, minWindow int) ([]int, error) {
	n := len(angles)
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 frames to select references, got %d", n)
	}
	if target < 0 || target >= n {
		return nil, fmt.Errorf("target frame %d out of range [0, %d)", target, n)
	}
	if threshold < 0 {
		return nil, fmt.Errorf("rotation threshold must be non-negative, got %v", threshold)
	}
	if minWindow <= 0 {
		minWindow = 4
	}
	window := minWindow / 2
	if window < 1 {
		window = 1
	}

	prev := target - 1
	for q := target - 1; q >= 0; q-- {
		if math.Abs(angles[target]-angles[q]) > threshold {
			prev = q
			break
		}
	}

	foll := n - 1
	for q := target; q < n; q++ {
		if math.Abs(angles[q]-angles[target]) > threshold {
			foll = q
			break
		}
	}

	seen := make(map[int]bool, 2*window)
	refs := make([]int, 0, 2*window)
	add := func(q int) {
		if q >= 0 && q < n && q != target && !seen[q] {
			seen[q] = true
			refs = append(refs, q)
		}
	}
	for q := prev - window + 1; q <= prev; q++ {
		add(q)
	}
	for q := foll; q < foll+window; q++ {
		add(q)
	}

	sort.Ints(refs)
	return refs, nil
}
