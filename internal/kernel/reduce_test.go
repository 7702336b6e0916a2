package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/tensor"
)

func TestReduceAddsAndNarrows(t *testing.T) {
	const rows, cols, stride = 5, 300, 320
	a := tensor.FromSlice(make([]float32, rows*stride), rows, cols, stride)
	b := tensor.FromSlice(make([]float32, rows*stride), rows, cols, stride)
	tensor.FillRand(a, 1, 4)
	tensor.FillRand(b, 2, 4)
	dst := tensor.New[dtype.BF16](rows, cols)

	NewReduceConvert(true).Reduce(a.Data, b.Data, stride, dst.Data, dst.Stride, rows, cols)
	for m := 0; m < rows; m++ {
		for n := 0; n < cols; n++ {
			require.Equal(t, dtype.Narrow(a.At(m, n)+b.At(m, n)), dst.At(m, n))
		}
	}
}

func TestReduceWithZeroEqualsConvert(t *testing.T) {
	for _, rows := range []int{1, 2, 3, 7} {
		const cols = 48
		src := tensor.New[float32](rows, cols)
		tensor.FillRand(src, int64(rows), 10)
		zero := tensor.New[float32](rows, cols)

		reduced := tensor.New[dtype.BF16](rows, cols)
		converted := tensor.New[dtype.BF16](rows, cols)
		NewReduceConvert(true).Reduce(src.Data, zero.Data, cols, reduced.Data, cols, rows, cols)
		NewReduceConvert(false).Convert(src.Data, cols, converted.Data, cols, rows, cols)
		require.Equal(t, converted.Data, reduced.Data, "rows=%d", rows)
	}
}

func TestReduceConvertModes(t *testing.T) {
	r := NewReduceConvert(false)
	require.False(t, r.Reduces2())
	require.Panics(t, func() { r.Reduce(nil, nil, 0, nil, 0, 0, 0) })
	require.Panics(t, func() { NewReduceConvert(true).Convert(nil, 0, nil, 0, 0, 0) })
}
