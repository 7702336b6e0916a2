// Package kernel implements the tile-blocked bf16 GEMM microkernel, the
// weight repacker that feeds it, and the elementwise kernels that merge
// partial f32 outputs into bf16.
package kernel

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/tensor"
	"github.com/samcharles93/mlpcore/internal/tile"
)

// ErrNoTileSupport is returned when the tile unit cannot run bf16 dot
// products.
var ErrNoTileSupport = errors.New("kernel: bf16 tile-matrix support unavailable")

// DefaultMHint is the M cache-block size the prefetch distance is tuned for.
const DefaultMHint = 256

// l1Bytes is the budget for B lines prefetched across one M block.
const l1Bytes = 32768 * 2

// BlockedGemm computes [M,K]x[K,BN] products 32x32 at a time on a tile
// unit. It holds no per-call state and is shared by every Work of a model.
type BlockedGemm struct {
	mHint         int
	prefetchLines int
}

// NewBlockedGemm builds the kernel for units with the given features. mHint
// sizes the prefetch of the next weight block per 32-row step; 0 disables
// prefetch.
func NewBlockedGemm(features tile.Features, mHint int) (*BlockedGemm, error) {
	if !features.SupportsBF16() {
		return nil, errors.Wrapf(ErrNoTileSupport, "features: %s", features)
	}
	if mHint < 0 {
		return nil, errors.Errorf("kernel: negative M hint %d", mHint)
	}
	g := &BlockedGemm{mHint: mHint}
	if mHint > 0 {
		g.prefetchLines = l1Bytes / tile.RowBytes / mHint
	}
	return g, nil
}

// MHint returns the M block size the kernel was built for.
func (g *BlockedGemm) MHint() int { return g.mHint }

// PrefetchLines is the number of 64-byte lines of the next block touched
// per 32-row step.
func (g *BlockedGemm) PrefetchLines() int { return g.prefetchLines }

// Run computes C[0:m, 0:NBlocks*32] (+)= A[0:m, 0:b.K] x B^T.
//
// The caller must have configured u with tile.GemmConfig for the row count
// of each 32-row step: the full configuration when m is a multiple of 32,
// the tail configuration when m < 32. A is read only up to b.K columns.
// With accumulate false C is overwritten, otherwise added to. prefetch is
// the block the caller will run next; it only drives cache hints.
func (g *BlockedGemm) Run(u tile.Unit, m int, a tensor.View[dtype.BF16], b PackedB,
	c tensor.View[float32], prefetch PackedB, accumulate bool,
) {
	if m <= 0 || m > a.Rows || m > c.Rows {
		exceptions.Panicf("kernel: gemm rows %d outside A (%d) or C (%d)", m, a.Rows, c.Rows)
	}
	if a.Cols < b.K {
		exceptions.Panicf("kernel: A has %d columns, weights need %d", a.Cols, b.K)
	}
	if c.Stride < b.NBlocks*BlockN {
		exceptions.Panicf("kernel: C stride %d narrower than %d packed columns", c.Stride, b.NBlocks*BlockN)
	}

	pf := prefetch.Data
	for m0 := 0; m0 < m; m0 += 2 * tile.MaxRows {
		rows := min(m-m0, 2*tile.MaxRows)
		split := rows > tile.MaxRows
		a0 := a.Data[m0*a.Stride:]
		var a1 []dtype.BF16
		if split {
			a1 = a.Data[(m0+tile.MaxRows)*a.Stride:]
		}

		for nb := 0; nb < b.NBlocks; nb++ {
			blk := b.Block(nb)
			c0 := c.Data[m0*c.Stride+nb*BlockN:]
			var c1 []float32
			if split {
				c1 = c0[tile.MaxRows*c.Stride:]
			}

			if accumulate {
				u.LoadF32(tile.C00, c0, c.Stride)
				u.LoadF32(tile.C01, c0[TileN:], c.Stride)
				if split {
					u.LoadF32(tile.C10, c1, c.Stride)
					u.LoadF32(tile.C11, c1[TileN:], c.Stride)
				}
			} else {
				u.Zero(tile.C00)
				u.Zero(tile.C01)
				if split {
					u.Zero(tile.C10)
					u.Zero(tile.C11)
				}
			}

			for kt := 0; kt < b.KTiles; kt++ {
				k0 := kt * TileK
				kw := min(b.K-k0, TileK)
				u.Load(tile.A0, a0[k0:], a.Stride, kw)
				if split {
					u.Load(tile.A1, a1[k0:], a.Stride, kw)
				}
				u.Load(tile.B0, blk[kt*blockElems:], TileK, TileK)
				u.Load(tile.B1, blk[kt*blockElems+tileElems:], TileK, TileK)
				u.DPBF16PS(tile.C00, tile.A0, tile.B0)
				u.DPBF16PS(tile.C01, tile.A0, tile.B1)
				if split {
					u.DPBF16PS(tile.C10, tile.A1, tile.B0)
					u.DPBF16PS(tile.C11, tile.A1, tile.B1)
				}
			}

			u.Store(tile.C00, c0, c.Stride)
			u.Store(tile.C01, c0[TileN:], c.Stride)
			if split {
				u.Store(tile.C10, c1, c.Stride)
				u.Store(tile.C11, c1[TileN:], c.Stride)
			}
		}

		for i := 0; i < g.prefetchLines && len(pf) > 0; i++ {
			u.Prefetch(pf)
			pf = pf[min(len(pf), tile.RowBytes/2):]
		}
	}
}
