package subspace

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// testMatrix builds a deterministic frames x pixels matrix with smooth
// structure plus a small index-dependent perturbation.
func testMatrix(frames, pixels int) *mat.Dense {
	out := mat.NewDense(frames, pixels, nil)
	for i := 0; i < frames; i++ {
		for j := 0; j < pixels; j++ {
			v := math.Sin(float64(j)*0.1+float64(i)*0.5) + 0.01*float64(i*j%7)
			out.Set(i, j, v)
		}
	}
	return out
}

// lowRankMatrix builds a frames x pixels matrix of exact rank 2.
func lowRankMatrix(frames, pixels int) *mat.Dense {
	out := mat.NewDense(frames, pixels, nil)
	for i := 0; i < frames; i++ {
		a := float64(i + 1)
		b := math.Pow(-1, float64(i))
		for j := 0; j < pixels; j++ {
			out.Set(i, j, a*math.Sin(float64(j)*0.2)+b*math.Cos(float64(j)*0.05))
		}
	}
	return out
}

func TestDecomposeRankError(t *testing.T) {
	refs := testMatrix(6, 50)

	_, err := Decompose(Options{Rank: 7}, refs)
	if !errors.Is(err, ErrRank) {
		t.Errorf("expected ErrRank for 7 components of 6 frames, got %v", err)
	}
}

func TestDecomposeDimensions(t *testing.T) {
	refs := testMatrix(6, 50)

	dec, err := Decompose(Options{Rank: 4}, refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dec.Rank != 4 {
		t.Errorf("expected rank 4, got %d", dec.Rank)
	}
	if r, c := dec.Basis.Dims(); r != 4 || c != 50 {
		t.Errorf("expected 4x50 basis, got %dx%d", r, c)
	}
	if r, c := dec.Weights.Dims(); r != 6 || c != 4 {
		t.Errorf("expected 6x4 weights, got %dx%d", r, c)
	}
	if len(dec.Values) != 4 {
		t.Errorf("expected 4 singular values, got %d", len(dec.Values))
	}
}

func TestDecomposeDefaultRank(t *testing.T) {
	refs := testMatrix(6, 50)

	dec, err := Decompose(Options{}, refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Rank != 6 {
		t.Errorf("expected full rank 6 by default, got %d", dec.Rank)
	}
}

func TestDecomposeExplainedVarianceCutoff(t *testing.T) {
	// Two pairs of identical rows built from orthogonal profiles with a
	// 10:1 amplitude ratio give singular values 10*sqrt(2)*c and
	// sqrt(2)*c, so one component already explains over 90% of the
	// cumulative singular-value sum.
	pixels := 64
	refs := mat.NewDense(4, pixels, nil)
	for j := 0; j < pixels; j++ {
		a := 10 * math.Sin(2*math.Pi*float64(j)/float64(pixels))
		b := math.Cos(2 * math.Pi * float64(j) / float64(pixels))
		refs.Set(0, j, a)
		refs.Set(1, j, a)
		refs.Set(2, j, b)
		refs.Set(3, j, b)
	}

	dec, err := Decompose(Options{Rank: 3, PRatio: 0.9}, refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Rank != 1 {
		t.Errorf("expected cutoff to keep 1 component, got %d", dec.Rank)
	}

	// Without a cutoff the requested rank survives.
	dec, err = Decompose(Options{Rank: 3, PRatio: 1}, refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Rank != 3 {
		t.Errorf("expected rank 3 without cutoff, got %d", dec.Rank)
	}
}

func TestDecomposeDeterminism(t *testing.T) {
	refs := testMatrix(8, 40)

	first, err := Decompose(Options{Rank: 5}, refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Decompose(Options{Rank: 5}, refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !mat.Equal(first.Basis, second.Basis) {
		t.Error("expected identical basis from identical input")
	}
	if !mat.Equal(first.Weights, second.Weights) {
		t.Error("expected identical weights from identical input")
	}
}

func TestDecomposeBasisOrthonormal(t *testing.T) {
	refs := testMatrix(8, 40)

	dec, err := Decompose(Options{Rank: 5}, refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var gram mat.Dense
	gram.Mul(dec.Basis, dec.Basis.T())
	for i := 0; i < dec.Rank; i++ {
		for j := 0; j < dec.Rank; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if got := gram.At(i, j); math.Abs(got-want) > 1e-10 {
				t.Errorf("gram(%d,%d) = %v, expected %v", i, j, got, want)
			}
		}
	}
}

func TestDecomposeWeightsAreProjections(t *testing.T) {
	refs := testMatrix(6, 30)

	dec, err := Decompose(Options{Rank: 3}, refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var want mat.Dense
	want.Mul(refs, dec.Basis.T())
	if !mat.EqualApprox(dec.Weights, &want, 1e-12) {
		t.Error("expected weights to equal refs times basis transpose")
	}
}

func TestDecomposeReconstructsLowRank(t *testing.T) {
	refs := lowRankMatrix(8, 60)

	dec, err := Decompose(Options{Rank: 2}, refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := dec.Reconstruct()
	if !mat.EqualApprox(refs, rec, 1e-9) {
		var diff mat.Dense
		diff.Sub(refs, rec)
		t.Errorf("expected rank-2 matrix recovered exactly, max residual %v", mat.Norm(&diff, math.Inf(1)))
	}
}

func TestTruncatedDecomposition(t *testing.T) {
	refs := lowRankMatrix(8, 60)

	dec, err := Decompose(Options{Rank: 3, Truncated: true}, refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dec.Rank != 3 {
		t.Errorf("expected rank 3, got %d", dec.Rank)
	}
	// The input has exact rank 2, so a rank-3 randomized basis still
	// reconstructs it to numerical accuracy.
	rec := dec.Reconstruct()
	if !mat.EqualApprox(refs, rec, 1e-6) {
		t.Error("expected truncated decomposition to reconstruct a low-rank matrix")
	}
}

func TestTruncatedConfigErrors(t *testing.T) {
	refs := testMatrix(6, 30)

	if _, err := Decompose(Options{Truncated: true}, refs); err == nil {
		t.Error("expected error for truncated decomposition without a rank")
	}
	if _, err := Decompose(Options{Truncated: true, Rank: 2, PRatio: 0.9}, refs); err == nil {
		t.Error("expected error for truncated decomposition with a variance cutoff")
	}
}

func TestDecomposeEmptyMatrixError(t *testing.T) {
	if _, err := Decompose(Options{Rank: 1}, &mat.Dense{}); err == nil {
		t.Error("expected error for an empty reference matrix")
	}
}

func BenchmarkDecompose(b *testing.B) {
	refs := testMatrix(30, 2000)
	opts := Options{Rank: 10}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decompose(opts, refs); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}
