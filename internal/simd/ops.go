// Package simd holds the f32 vector loops shared by the tile unit and the
// elementwise kernels, with AVX2 variants when built with GOEXPERIMENT=simd.
package simd

import "math"

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	src = src[:len(dst)]
	if cpu.HasAVX2 {
		addSIMD(dst, src)
		return
	}
	addScalar(dst, src)
}

func addScalar(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Sum writes a+b into dst.
func Sum(dst, a, b []float32) {
	a, b = a[:len(dst)], b[:len(dst)]
	if cpu.HasAVX2 {
		sumSIMD(dst, a, b)
		return
	}
	sumScalar(dst, a, b)
}

func sumScalar(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] + b[i]
	}
}

// Axpy2 computes dst += a*x + b*y, the row update of a pairwise dot product.
func Axpy2(dst []float32, a float32, x []float32, b float32, y []float32) {
	x, y = x[:len(dst)], y[:len(dst)]
	if cpu.HasAVX2 {
		axpy2SIMD(dst, a, x, b, y)
		return
	}
	axpy2Scalar(dst, a, x, b, y)
}

func axpy2Scalar(dst []float32, a float32, x []float32, b float32, y []float32) {
	for i := range dst {
		dst[i] += a*x[i] + b*y[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	b = b[:len(a)]
	if cpu.HasAVX2 {
		return dotSIMD(a, b)
	}
	return dotScalar(a, b)
}

func dotScalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// Gelu computes the exact GELU, x * Phi(x).
func Gelu(x float32) float32 {
	v := float64(x)
	return float32(0.5 * v * (1 + math.Erf(v/math.Sqrt2)))
}

const sqrt2OverPi = 0.7978845608028654

// GeluTanh computes the tanh approximation of GELU.
func GeluTanh(x float32) float32 {
	v := float64(x)
	return float32(0.5 * v * (1 + math.Tanh(sqrt2OverPi*(v+0.044715*v*v*v))))
}
