// Package mlp partitions the feed-forward GEMMs of a transformer layer into
// per-thread works, stages their repacked weights, and runs the gated MLP
// on the blocked tile kernel.
package mlp

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/kernel"
	"github.com/samcharles93/mlpcore/internal/tensor"
	"github.com/samcharles93/mlpcore/internal/tile"
)

const (
	// DefaultBlkKSize is the K cache-block depth.
	DefaultBlkKSize = 256
	// DefaultMBlock is the M cache-block height.
	DefaultMBlock = 256

	rowStep = 2 * tile.MaxRows
)

// Work owns one thread's [N0,N1) x [K0,K1) slice of a weight matrix: its
// repacked K blocks, the tile configurations for every row tail, and the
// f32 accumulator its runs write to.
//
// A Work with BN <= 0 is empty. Schedulers skip empty works; running one is
// a contract violation.
type Work struct {
	N0, N1   int
	K0, K1   int
	BN       int
	BlkKSize int
	OutputID int

	kern    *kernel.BlockedGemm
	guard   *tile.Guard
	weights []kernel.PackedB
	cfgs    [rowStep]*tile.Config

	c     tensor.View[float32]
	owned []float32
}

// NewWork describes the [n0,n1) x [k0,k1) slice cut into blkKSize blocks.
func NewWork(n0, n1, k0, k1, blkKSize, outputID int) *Work {
	return &Work{
		N0: n0, N1: n1,
		K0: k0, K1: k1,
		BN:       n1 - n0,
		BlkKSize: blkKSize,
		OutputID: outputID,
	}
}

// Empty reports whether the work has no output columns.
func (w *Work) Empty() bool { return w.BN <= 0 }

func (w *Work) String() string {
	return fmt.Sprintf("work{n=[%d,%d) k=[%d,%d) out=%d}", w.N0, w.N1, w.K0, w.K1, w.OutputID)
}

// NumBlocks returns ceil((K1-K0)/BlkKSize).
func (w *Work) NumBlocks() int {
	if w.Empty() || w.K1 <= w.K0 || w.BlkKSize <= 0 {
		return 0
	}
	return (w.K1 - w.K0 + w.BlkKSize - 1) / w.BlkKSize
}

// Footprint returns the staging elements the repacked blocks occupy. It
// equals (N1-N0)*(K1-K0) whenever both ranges are 32-aligned.
func (w *Work) Footprint() int {
	total := 0
	for k := w.K0; k < w.K1 && !w.Empty() && w.BlkKSize > 0; k += w.BlkKSize {
		total += kernel.PackedSize(w.BN, min(w.BlkKSize, w.K1-k))
	}
	return total
}

// Blocks returns the repacked K blocks in order.
func (w *Work) Blocks() []kernel.PackedB { return w.weights }

// Guard returns the work's tile configuration guard, nil before setup.
func (w *Work) Guard() *tile.Guard { return w.guard }

// C returns the accumulator sized by the last SetC.
func (w *Work) C() tensor.View[float32] { return w.c }

// SetupWork repacks rows [N0,N1) of weight (an [N,K] matrix, rows stride
// elements apart) into dst and prepares w to run on u.
func SetupWork[T dtype.Source](w *Work, kern *kernel.BlockedGemm, u tile.Unit, dst []dtype.BF16, weight []T, stride int) error {
	if err := w.checkSetup(kern, u, dst, len(weight), w.N0, w.BN, stride); err != nil {
		return err
	}
	w.setup(kern, u, func(k, subK int) kernel.PackedB {
		p := kernel.PrepareB(dst, weight[w.N0*stride+k:], stride, w.BN, subK)
		dst = dst[len(p.Data):]
		return p
	})
	return nil
}

// SetupWorkInterleaved repacks gate and up weights fused in groups of 16
// rows. N0 and N1 index the fused width, so each source is read from row
// N0/2 for BN/2 rows.
func SetupWorkInterleaved[T dtype.Source](w *Work, kern *kernel.BlockedGemm, u tile.Unit, dst []dtype.BF16, gate, up []T, stride int) error {
	if w.N0%2 != 0 || w.BN%2 != 0 {
		return errors.Errorf("mlp: %s: interleaved range must be even", w)
	}
	if len(gate) != len(up) {
		return errors.Errorf("mlp: %s: gate and up sizes differ (%d vs %d)", w, len(gate), len(up))
	}
	if err := w.checkSetup(kern, u, dst, len(gate), w.N0/2, w.BN/2, stride); err != nil {
		return err
	}
	w.setup(kern, u, func(k, subK int) kernel.PackedB {
		off := (w.N0/2)*stride + k
		p := kernel.PrepareB2(dst, gate[off:], up[off:], stride, w.BN, subK)
		dst = dst[len(p.Data):]
		return p
	})
	return nil
}

func (w *Work) checkSetup(kern *kernel.BlockedGemm, u tile.Unit, dst []dtype.BF16, weightLen, row0, rows, stride int) error {
	switch {
	case w.Empty():
		return errors.Errorf("mlp: %s: cannot set up an empty work", w)
	case kern == nil || u == nil:
		return errors.Errorf("mlp: %s: kernel and tile unit are required", w)
	case w.BlkKSize <= 0:
		return errors.Errorf("mlp: %s: block size %d", w, w.BlkKSize)
	case w.K0 < 0 || w.K1 <= w.K0 || w.K1 > stride:
		return errors.Errorf("mlp: %s: K range outside row stride %d", w, stride)
	case len(dst) < w.Footprint():
		return errors.Errorf("mlp: %s: staging region holds %d elements, need %d", w, len(dst), w.Footprint())
	case (row0+rows-1)*stride+w.K1 > weightLen:
		return errors.Errorf("mlp: %s: weights hold %d elements, rows [%d,%d) need more", w, weightLen, row0, row0+rows)
	}
	return nil
}

func (w *Work) setup(kern *kernel.BlockedGemm, u tile.Unit, prepare func(k, subK int) kernel.PackedB) {
	w.kern = kern
	w.guard = tile.NewGuard(u)
	w.weights = make([]kernel.PackedB, 0, w.NumBlocks())
	for k := w.K0; k < w.K1; {
		subK := min(w.BlkKSize, w.K1-k)
		w.weights = append(w.weights, prepare(k, subK))
		k += subK
	}
	w.cfgs = tile.GemmConfigs()
}

// Stride returns the accumulator row stride, BN rounded up to 32.
func (w *Work) Stride() int { return (w.BN + kernel.BlockN - 1) / kernel.BlockN * kernel.BlockN }

// SetC sizes the accumulator for m rows, rounded up to a multiple of 32. A
// non-nil ext backs it; otherwise the work's own buffer is used, growing to
// the largest m seen. It returns the accumulator size in bytes.
func (w *Work) SetC(m int, ext []float32) int {
	rows := (m + rowStep - 1) / rowStep * rowStep
	stride := w.Stride()
	need := rows * stride
	if ext != nil {
		if len(ext) < need {
			exceptions.Panicf("mlp: %s: external accumulator holds %d floats, need %d", w, len(ext), need)
		}
		w.c = tensor.FromSlice(ext[:need], rows, w.BN, stride)
		return need * 4
	}
	if len(w.owned) < need {
		w.owned = make([]float32, need)
	}
	w.c = tensor.FromSlice(w.owned[:need], rows, w.BN, stride)
	return need * 4
}

// CBytes returns what SetC(m, ...) would report without sizing anything.
func (w *Work) CBytes(m int) int {
	return (m + rowStep - 1) / rowStep * rowStep * w.Stride() * 4
}

// Run accumulates C[0:m] = A[0:m, K0:K1] x W^T over every K block. A is the
// full-width activation; the work offsets it by K0 itself.
//
// The body rows (a multiple of 32) are run over all blocks under the full
// configuration, then the tail rows over all blocks under their tail
// configuration, so the tile unit is configured at most twice per call.
func (w *Work) Run(m int, a tensor.View[dtype.BF16]) {
	if w.Empty() {
		exceptions.Panicf("mlp: run on empty %s", w)
	}
	if len(w.weights) == 0 {
		exceptions.Panicf("mlp: run on %s before setup", w)
	}
	if m <= 0 || m > a.Rows || a.Cols < w.K1 {
		exceptions.Panicf("mlp: %s: activation %dx%d cannot supply %d rows", w, a.Rows, a.Cols, m)
	}
	if w.c.Rows < m {
		exceptions.Panicf("mlp: %s: accumulator sized for %d rows, run needs %d", w, w.c.Rows, m)
	}

	tail := m % rowStep
	body := m - tail
	u := w.guard.Unit()
	if body > 0 {
		w.guard.Configure(w.cfgs[0])
		w.runBlocks(u, body, a, w.c)
	}
	if tail > 0 {
		w.guard.Configure(w.cfgs[tail])
		w.runBlocks(u, tail, a.Sub(body, 0, tail, a.Cols), w.c.Sub(body, 0, w.c.Rows-body, w.c.Cols))
	}
	w.guard.Configure(nil)
}

func (w *Work) runBlocks(u tile.Unit, m int, a tensor.View[dtype.BF16], c tensor.View[float32]) {
	last := len(w.weights) - 1
	for ki, blk := range w.weights {
		next := w.weights[min(ki+1, last)]
		w.kern.Run(u, m, a.Offset(w.K0+ki*w.BlkKSize), blk, c, next, ki > 0)
	}
}
