//go:build amd64 && goexperiment.simd

package simd

import "simd/archsimd"

func init() {
	if noSimdEnv() {
		return
	}
	cpu.HasAVX2 = archsimd.X86.AVX2()
}

// Report lists the x86 vector extensions the simd experiment can see.
func Report() map[string]bool {
	return map[string]bool{
		"AVX":        archsimd.X86.AVX(),
		"AVX2":       archsimd.X86.AVX2(),
		"FMA":        archsimd.X86.FMA(),
		"AVX512":     archsimd.X86.AVX512(),
		"AVX512VNNI": archsimd.X86.AVX512VNNI(),
		"AVXVNNI":    archsimd.X86.AVXVNNI(),
	}
}

func addSIMD(dst, src []float32) {
	n := len(dst)
	i := 0
	for ; i+8 <= n; i += 8 {
		vd := archsimd.LoadFloat32x8Slice(dst[i:])
		vs := archsimd.LoadFloat32x8Slice(src[i:])
		vd.Add(vs).StoreSlice(dst[i:])
	}
	for ; i < n; i++ {
		dst[i] += src[i]
	}
}

func sumSIMD(dst, a, b []float32) {
	n := len(dst)
	i := 0
	for ; i+8 <= n; i += 8 {
		va := archsimd.LoadFloat32x8Slice(a[i:])
		vb := archsimd.LoadFloat32x8Slice(b[i:])
		va.Add(vb).StoreSlice(dst[i:])
	}
	for ; i < n; i++ {
		dst[i] = a[i] + b[i]
	}
}

func axpy2SIMD(dst []float32, a float32, x []float32, b float32, y []float32) {
	n := len(dst)
	va := archsimd.BroadcastFloat32x8(a)
	vb := archsimd.BroadcastFloat32x8(b)
	i := 0
	for ; i+8 <= n; i += 8 {
		acc := archsimd.LoadFloat32x8Slice(dst[i:])
		vx := archsimd.LoadFloat32x8Slice(x[i:])
		acc = vx.MulAdd(va, acc)
		vy := archsimd.LoadFloat32x8Slice(y[i:])
		acc = vy.MulAdd(vb, acc)
		acc.StoreSlice(dst[i:])
	}
	for ; i < n; i++ {
		dst[i] += a*x[i] + b*y[i]
	}
}

func dotSIMD(a, b []float32) float32 {
	n := len(a)
	var acc archsimd.Float32x8
	i := 0
	for ; i+8 <= n; i += 8 {
		va := archsimd.LoadFloat32x8Slice(a[i:])
		vb := archsimd.LoadFloat32x8Slice(b[i:])
		acc = va.MulAdd(vb, acc)
	}
	var tmp [8]float32
	acc.Store(&tmp)
	sum := tmp[0] + tmp[1] + tmp[2] + tmp[3] + tmp[4] + tmp[5] + tmp[6] + tmp[7]
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
