package simd

import "testing"

func TestSigmoidValues(t *testing.T) {
	tests := []struct {
		x    float32
		want float32
	}{
		{x: 0, want: 0.5},
		{x: 2, want: 0.8807971},
		{x: -2, want: 0.1192029},
	}
	const tol = 1e-5
	for _, tt := range tests {
		got := Sigmoid(tt.x)
		if got < tt.want-tol || got > tt.want+tol {
			t.Fatalf("sigmoid(%v)=%v want %v±%v", tt.x, got, tt.want, tol)
		}
	}
}

func TestGeluVariants(t *testing.T) {
	tests := []struct {
		x        float32
		erf, tnh float32
	}{
		{x: 0, erf: 0, tnh: 0},
		{x: 1, erf: 0.8413447, tnh: 0.8411920},
		{x: -1, erf: -0.1586553, tnh: -0.1588080},
		{x: 3, erf: 2.9959502, tnh: 2.9963627},
	}
	const tol = 1e-5
	for _, tt := range tests {
		if got := Gelu(tt.x); got < tt.erf-tol || got > tt.erf+tol {
			t.Fatalf("gelu(%v)=%v want %v", tt.x, got, tt.erf)
		}
		if got := GeluTanh(tt.x); got < tt.tnh-tol || got > tt.tnh+tol {
			t.Fatalf("gelu_tanh(%v)=%v want %v", tt.x, got, tt.tnh)
		}
	}
}

func TestVectorOpsMatchScalar(t *testing.T) {
	// 19 covers two full vectors plus a tail.
	for _, n := range []int{0, 1, 8, 16, 19} {
		x := make([]float32, n)
		y := make([]float32, n)
		for i := range x {
			x[i] = float32(i%5) - 2
			y[i] = float32(i%3) * 0.5
		}

		got := make([]float32, n)
		want := make([]float32, n)
		Axpy2(got, 2, x, -1, y)
		axpy2Scalar(want, 2, x, -1, y)
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("n=%d Axpy2[%d]=%v want %v", n, i, got[i], want[i])
			}
		}

		Sum(got, x, y)
		sumScalar(want, x, y)
		Add(got, y)
		addScalar(want, y)
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("n=%d Sum/Add[%d]=%v want %v", n, i, got[i], want[i])
			}
		}

		if d, w := Dot(x, y), dotScalar(x, y); d-w > 1e-5 || w-d > 1e-5 {
			t.Fatalf("n=%d Dot=%v want %v", n, d, w)
		}
	}
}

func BenchmarkAxpy2(b *testing.B) {
	dst := make([]float32, 16)
	x := make([]float32, 16)
	y := make([]float32, 16)
	for i := range x {
		x[i], y[i] = float32(i), float32(16-i)
	}
	for i := 0; i < b.N; i++ {
		Axpy2(dst, 0.5, x, 0.25, y)
	}
}
