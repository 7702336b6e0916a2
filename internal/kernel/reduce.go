package kernel

import (
	"github.com/gomlx/exceptions"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/simd"
)

// reduceDist keeps the output prefetch two rows ahead of the store.
const reduceDist = 2

// ReduceConvert narrows f32 accumulators into bf16, either summing two
// partial results (reduce2) or converting one.
type ReduceConvert struct {
	reduce2 bool
}

func NewReduceConvert(reduce2 bool) *ReduceConvert {
	return &ReduceConvert{reduce2: reduce2}
}

// Reduces2 reports whether the kernel is the binary form.
func (r *ReduceConvert) Reduces2() bool { return r.reduce2 }

// Reduce writes bf16(src0 + src1) for rows x cols elements. src0 and src1
// share stride.
func (r *ReduceConvert) Reduce(src0, src1 []float32, stride int, dst []dtype.BF16, dstStride, rows, cols int) {
	if !r.reduce2 {
		exceptions.Panicf("kernel: Reduce called on a convert-only kernel")
	}
	var buf [256]float32
	for m := 0; m < rows; m++ {
		touch(dst[prefetchRow(m, rows, reduceDist)*dstStride:])
		s0 := src0[m*stride : m*stride+cols]
		s1 := src1[m*stride : m*stride+cols]
		d := dst[m*dstStride : m*dstStride+cols]
		for j := 0; j < cols; j += len(buf) {
			n := min(len(buf), cols-j)
			tmp := buf[:n]
			simd.Sum(tmp, s0[j:j+n], s1[j:j+n])
			dtype.NarrowSlice(d[j:j+n], tmp)
		}
	}
}

// Convert writes bf16(src0) for rows x cols elements.
func (r *ReduceConvert) Convert(src0 []float32, stride int, dst []dtype.BF16, dstStride, rows, cols int) {
	if r.reduce2 {
		exceptions.Panicf("kernel: Convert called on a two-input reduce kernel")
	}
	for m := 0; m < rows; m++ {
		touch(dst[prefetchRow(m, rows, reduceDist)*dstStride:])
		dtype.NarrowSlice(dst[m*dstStride:m*dstStride+cols], src0[m*stride:m*stride+cols])
	}
}
