package mlp

import (
	"math"
	"testing"

	"github.com/janpfeifer/must"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/kernel"
	"github.com/samcharles93/mlpcore/internal/tensor"
	"github.com/samcharles93/mlpcore/internal/tile"
)

func softKernel() *kernel.BlockedGemm {
	return must.M1(kernel.NewBlockedGemm(tile.NewSoft().Features(), kernel.DefaultMHint))
}

func randMatrix(seed int64, rows, cols int) tensor.View[float32] {
	w := tensor.New[float32](rows, cols)
	tensor.FillRand(w, seed, 2)
	return w
}

func randInput(seed int64, m, k int) tensor.View[dtype.BF16] {
	return tensor.Narrow(randMatrix(seed, m, k))
}

// requireClose fails when any element differs by more than tol.
func requireClose(t *testing.T, got, want tensor.View[float32], tol float64, msgAndArgs ...any) {
	t.Helper()
	if got.Rows < want.Rows || got.Cols < want.Cols {
		t.Fatalf("shape %dx%d smaller than %dx%d", got.Rows, got.Cols, want.Rows, want.Cols)
	}
	for i := 0; i < want.Rows; i++ {
		for j := 0; j < want.Cols; j++ {
			g, w := float64(got.At(i, j)), float64(want.At(i, j))
			if math.Abs(g-w) > tol || math.IsNaN(g) {
				t.Fatalf("(%d,%d): got %v want %v (tol %g) %v", i, j, g, w, tol, msgAndArgs)
			}
		}
	}
}

func maxAbs(v tensor.View[float32]) float64 {
	var m float64
	for i := 0; i < v.Rows; i++ {
		for _, x := range v.Row(i) {
			m = max(m, math.Abs(float64(x)))
		}
	}
	return m
}
