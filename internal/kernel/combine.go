package kernel

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/simd"
)

// Activation is the gate nonlinearity of a gated MLP. Implementations are
// zero-size so every GateUpCombine instantiation inlines its own.
type Activation interface {
	Apply(x float32) float32
	Name() string
}

type SiLU struct{}

func (SiLU) Apply(x float32) float32 { return simd.Silu(x) }
func (SiLU) Name() string            { return "silu" }

// GeLU is the exact, erf based GELU.
type GeLU struct{}

func (GeLU) Apply(x float32) float32 { return simd.Gelu(x) }
func (GeLU) Name() string            { return "gelu" }

type GeLUTanh struct{}

func (GeLUTanh) Apply(x float32) float32 { return simd.GeluTanh(x) }
func (GeLUTanh) Name() string            { return "gelu_tanh" }

// Combiner merges interleaved gate/up accumulators into bf16.
type Combiner interface {
	Call(src []float32, srcStride int, dst []dtype.BF16, dstStride, rows, cols int)
	Activation() string
}

// GateUpCombine computes bf16(act(gate) * up) for each row of src, where
// gate and up are interleaved in groups of 16 columns:
// [gate0..15, up0..15, gate16..31, up16..31, ...].
type GateUpCombine[A Activation] struct {
	act A
}

// Call processes rows rows of cols interleaved columns and writes cols/2
// outputs per row.
func (k GateUpCombine[A]) Call(src []float32, srcStride int, dst []dtype.BF16, dstStride, rows, cols int) {
	if cols%2 != 0 {
		exceptions.Panicf("kernel: combine over %d interleaved columns", cols)
	}
	outs := cols / 2
	for m := 0; m < rows; m++ {
		touch(dst[prefetchRow(m, rows, 1)*dstStride:])
		s := src[m*srcStride:]
		d := dst[m*dstStride : m*dstStride+outs]
		for o := 0; o < outs; o += TileN {
			n := min(TileN, outs-o)
			g := 2 * o
			gate := s[g : g+n]
			up := s[g+TileN : g+TileN+n]
			out := d[o : o+n]
			for j := range out {
				out[j] = dtype.Narrow(k.act.Apply(gate[j]) * up[j])
			}
		}
	}
}

func (k GateUpCombine[A]) Activation() string { return k.act.Name() }

// ActivationKind selects a GateUpCombine instantiation.
type ActivationKind int

const (
	ActSiLU ActivationKind = iota
	ActGeLU
	ActGeLUTanh
)

func (a ActivationKind) String() string {
	switch a {
	case ActSiLU:
		return "silu"
	case ActGeLU:
		return "gelu"
	case ActGeLUTanh:
		return "gelu_tanh"
	default:
		return fmt.Sprintf("activation(%d)", int(a))
	}
}

// Apply evaluates the activation on one value.
func (a ActivationKind) Apply(x float32) float32 {
	switch a {
	case ActGeLU:
		return simd.Gelu(x)
	case ActGeLUTanh:
		return simd.GeluTanh(x)
	default:
		return simd.Silu(x)
	}
}

// ParseActivation accepts silu, swish, gelu, gelu_erf, gelu_tanh.
func ParseActivation(name string) (ActivationKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "silu", "swish", "":
		return ActSiLU, nil
	case "gelu", "gelu_erf":
		return ActGeLU, nil
	case "gelu_tanh", "gelu_pytorch_tanh":
		return ActGeLUTanh, nil
	default:
		return 0, fmt.Errorf("unknown activation %q", name)
	}
}

// NewCombiner returns the combine kernel for kind.
func NewCombiner(kind ActivationKind) Combiner {
	switch kind {
	case ActSiLU:
		return GateUpCombine[SiLU]{}
	case ActGeLU:
		return GateUpCombine[GeLU]{}
	case ActGeLUTanh:
		return GateUpCombine[GeLUTanh]{}
	default:
		exceptions.Panicf("kernel: no combine kernel for %s", kind)
		return nil
	}
}

// prefetchRow picks the row to prefetch while working on row m: dist rows
// ahead, or m itself when that would run past the last row.
func prefetchRow(m, rows, dist int) int {
	if m+dist < rows {
		return m + dist
	}
	return m
}

// touch stands in for a prefetch of p. Go has no prefetch instruction, so
// the hint reduces to a bounds-checked read.
func touch[T any](p []T) {
	if len(p) > 0 {
		_ = p[0]
	}
}
