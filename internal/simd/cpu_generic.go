//go:build !(amd64 && goexperiment.simd)

package simd

// Without the simd experiment cpu.HasAVX2 stays false and these are never
// reached; they exist so the dispatchers compile on every target.

func addSIMD(dst, src []float32) { addScalar(dst, src) }

func sumSIMD(dst, a, b []float32) { sumScalar(dst, a, b) }

func axpy2SIMD(dst []float32, a float32, x []float32, b float32, y []float32) {
	axpy2Scalar(dst, a, x, b, y)
}

func dotSIMD(a, b []float32) float32 { return dotScalar(a, b) }

// Report is empty when the simd experiment is off.
func Report() map[string]bool { return map[string]bool{} }
