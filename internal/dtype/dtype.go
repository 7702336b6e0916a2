// Package dtype holds the element formats the MLP core moves between: the
// bf16 narrow format consumed by the tile unit and the source formats weights
// may arrive in.
package dtype

import (
	"fmt"
	"math"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// BF16 is the narrow storage and tile-input format.
type BF16 = bfloat16.BFloat16

// F16 is IEEE half precision, accepted as a weight source format.
type F16 = float16.Float16

// Source is the set of element types raw weights may be supplied in.
type Source interface {
	float32 | float16.Float16 | bfloat16.BFloat16
}

// Kind enumerates element encodings found in weight files.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindF32
	KindF16
	KindBF16
)

// ParseKind maps safetensors dtype names to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "F32":
		return KindF32, nil
	case "F16":
		return KindF16, nil
	case "BF16":
		return KindBF16, nil
	default:
		return KindInvalid, fmt.Errorf("unsupported dtype %q", name)
	}
}

func (k Kind) String() string {
	switch k {
	case KindF32:
		return "F32"
	case KindF16:
		return "F16"
	case KindBF16:
		return "BF16"
	default:
		return "invalid"
	}
}

// Size returns the element width in bytes, 0 for KindInvalid.
func (k Kind) Size() int {
	switch k {
	case KindF32:
		return 4
	case KindF16, KindBF16:
		return 2
	default:
		return 0
	}
}

// Narrow converts f to bf16 with round-to-nearest-even. NaN payloads are
// kept quiet instead of being rounded into infinity.
func Narrow(f float32) BF16 {
	u := math.Float32bits(f)
	if u&0x7FFFFFFF > 0x7F800000 {
		return BF16(uint16(u>>16) | 0x0040)
	}
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return BF16((u + rnd) >> 16)
}

// Widen converts a bf16 value back to float32. It is exact.
func Widen(v BF16) float32 {
	return math.Float32frombits(uint32(v) << 16)
}

// ToBF16 narrows any Source value.
func ToBF16[T Source](v T) BF16 {
	switch x := any(v).(type) {
	case bfloat16.BFloat16:
		return x
	case float16.Float16:
		return Narrow(x.Float32())
	case float32:
		return Narrow(x)
	}
	panic("dtype: unreachable source type")
}

// ToFloat32 widens any Source value.
func ToFloat32[T Source](v T) float32 {
	switch x := any(v).(type) {
	case bfloat16.BFloat16:
		return Widen(x)
	case float16.Float16:
		return x.Float32()
	case float32:
		return x
	}
	panic("dtype: unreachable source type")
}

// KindOf reports the Kind of a Source type parameter.
func KindOf[T Source]() Kind {
	var zero T
	switch any(zero).(type) {
	case bfloat16.BFloat16:
		return KindBF16
	case float16.Float16:
		return KindF16
	default:
		return KindF32
	}
}

// NarrowSlice narrows src into dst. dst must be at least as long as src.
func NarrowSlice(dst []BF16, src []float32) {
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = Narrow(v)
	}
}

// WidenSlice widens src into dst. dst must be at least as long as src.
func WidenSlice(dst []float32, src []BF16) {
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = Widen(v)
	}
}
