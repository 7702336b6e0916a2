package tile

import (
	"fmt"

	"github.com/samcharles93/mlpcore/internal/dtype"
)

// Features is the tile-matrix capability set of a Unit or host.
type Features struct {
	Tile       bool `json:"amx_tile"`
	BF16       bool `json:"amx_bf16"`
	Int8       bool `json:"amx_int8"`
	AVX512BF16 bool `json:"avx512_bf16"`
	AVX2       bool `json:"avx2"`
	// Emulated is set when tile instructions run in software.
	Emulated bool `json:"emulated"`
}

// SupportsBF16 reports whether bf16 tile dot products are available.
func (f Features) SupportsBF16() bool { return f.Tile && f.BF16 }

func (f Features) String() string {
	mode := "native"
	if f.Emulated {
		mode = "emulated"
	}
	return fmt.Sprintf("amx-tile=%t amx-bf16=%t amx-int8=%t avx512-bf16=%t avx2=%t (%s)",
		f.Tile, f.BF16, f.Int8, f.AVX512BF16, f.AVX2, mode)
}

// Unit is the register-level interface of a bf16 tile-matrix unit. A Unit
// holds per-thread register state and must not be shared between
// goroutines.
type Unit interface {
	Features() Features

	// LoadConfig applies cfg and zeroes every register.
	LoadConfig(cfg *Config)
	// Release returns the unit to the unconfigured state.
	Release()

	// Zero clears register t.
	Zero(t int)
	// Load fills bf16 register t from src rows stride elements apart. Only
	// the first cols elements of each row are read; the rest of the row is
	// zero.
	Load(t int, src []dtype.BF16, stride, cols int)
	// LoadF32 fills f32 register t from src rows stride elements apart.
	LoadF32(t int, src []float32, stride int)
	// Store writes f32 register t to dst rows stride elements apart.
	Store(t int, dst []float32, stride int)
	// DPBF16PS accumulates the pairwise bf16 product of a and b into c.
	DPBF16PS(c, a, b int)

	// Prefetch hints that p is about to be read. It has no effect on
	// results.
	Prefetch(p []dtype.BF16)
}
