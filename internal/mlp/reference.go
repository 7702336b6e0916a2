package mlp

import (
	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/kernel"
	"github.com/samcharles93/mlpcore/internal/tensor"
)

// MatMulT computes x W^T with float64 sums over bf16-rounded weights, the
// dense result the blocked kernel approximates.
func MatMulT[T dtype.Source](x tensor.View[dtype.BF16], w tensor.View[T]) tensor.View[float32] {
	wf := tensor.New[float32](w.Rows, w.Cols)
	for n := 0; n < w.Rows; n++ {
		src, dst := w.Row(n), wf.Row(n)
		for k, v := range src {
			dst[k] = dtype.Widen(dtype.ToBF16(v))
		}
	}
	out := tensor.New[float32](x.Rows, w.Rows)
	xr := make([]float32, x.Cols)
	for m := 0; m < x.Rows; m++ {
		dtype.WidenSlice(xr, x.Row(m))
		row := out.Row(m)
		for n := range row {
			var sum float64
			for k, v := range wf.Row(n) {
				sum += float64(xr[k]) * float64(v)
			}
			row[n] = float32(sum)
		}
	}
	return out
}

// ReferenceForward evaluates the gated MLP densely. The intermediate is
// narrowed to bf16 like the blocked path does; the output stays f32.
func ReferenceForward[T dtype.Source](w Weights[T], x tensor.View[dtype.BF16], act kernel.ActivationKind) tensor.View[float32] {
	gate := MatMulT(x, w.Gate)
	up := MatMulT(x, w.Up)
	inter := tensor.New[dtype.BF16](x.Rows, gate.Cols)
	for m := 0; m < x.Rows; m++ {
		g, u, dst := gate.Row(m), up.Row(m), inter.Row(m)
		for i := range dst {
			dst[i] = dtype.Narrow(act.Apply(g[i]) * u[i])
		}
	}
	return MatMulT(inter, w.Down)
}
