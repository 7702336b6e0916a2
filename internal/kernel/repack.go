package kernel

import (
	"github.com/gomlx/exceptions"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/tensor"
)

const (
	// TileN is the number of weight rows (output columns) in one B tile.
	TileN = 16
	// TileK is the K depth of one tile row: 32 bf16 elements, 64 bytes.
	TileK = 32
	// BlockN is the output width of one register block, two B tiles.
	BlockN = 2 * TileN

	tileElems  = TileN * TileK
	blockElems = 2 * tileElems
)

// PackedB is a weight block repacked for the blocked kernel. Data is laid
// out as [NBlocks][KTiles][2][16][16][2]: for each 32-column block and each
// 32-deep K tile, two VNNI tiles holding columns n..n+15 and n+16..n+31,
// each storing row kk/2 as 16 column pairs (k even, k odd).
type PackedB struct {
	Data    []dtype.BF16
	N, K    int
	NBlocks int
	KTiles  int
}

// PackedSize returns the elements PrepareB writes for an n x k block.
func PackedSize(n, k int) int {
	return roundUp(n, BlockN) * roundUp(k, TileK)
}

// Index returns the offset of weight (n, k) in a block with kTiles K tiles.
func Index(kTiles, n, k int) int {
	nb, half, col := n/BlockN, (n%BlockN)/TileN, n%TileN
	kt, kk := k/TileK, k%TileK
	return nb*kTiles*blockElems + kt*blockElems + half*tileElems + (kk/2)*TileK + col*2 + kk%2
}

// Block returns the KTiles*1024 elements of column block nb.
func (p PackedB) Block(nb int) []dtype.BF16 {
	n := p.KTiles * blockElems
	return p.Data[nb*n : (nb+1)*n]
}

// At returns weight (n, k). Padding positions read as zero.
func (p PackedB) At(n, k int) dtype.BF16 {
	return p.Data[Index(p.KTiles, n, k)]
}

// Empty reports whether the block holds no weights.
func (p PackedB) Empty() bool { return len(p.Data) == 0 }

// RepackTile writes one 16x32 VNNI tile into dst from an n x k weight
// window, n <= 16 and k <= 32. Rows of src are nStride elements apart.
// Positions outside the window are zero.
func RepackTile[T dtype.Source](dst []dtype.BF16, src []T, nStride, n, k int) {
	if n < 0 || n > TileN || k < 0 || k > TileK {
		exceptions.Panicf("kernel: repack window %dx%d exceeds a %dx%d tile", n, k, TileN, TileK)
	}
	dst = dst[:tileElems]
	clear(dst)
	for col := 0; col < n; col++ {
		row := src[col*nStride : col*nStride+k]
		for kk, v := range row {
			dst[(kk/2)*TileK+col*2+kk%2] = dtype.ToBF16(v)
		}
	}
}

// PrepareB repacks the n x k weight matrix src (rows stride elements apart)
// into dst and returns the block. n and k are padded with zeros up to
// multiples of 32.
func PrepareB[T dtype.Source](dst []dtype.BF16, src []T, stride, n, k int) PackedB {
	p := newPacked(dst, n, k)
	for nb := 0; nb < p.NBlocks; nb++ {
		for kt := 0; kt < p.KTiles; kt++ {
			base := nb*p.KTiles*blockElems + kt*blockElems
			k0 := kt * TileK
			kw := min(k-k0, TileK)
			for half := 0; half < 2; half++ {
				n0 := nb*BlockN + half*TileN
				rows := min(max(n-n0, 0), TileN)
				repackAt(p.Data[base+half*tileElems:], src, stride, n0, k0, rows, kw)
			}
		}
	}
	return p
}

// PrepareB2 repacks two same-shaped weight matrices interleaved in groups of
// 16 rows: src1 rows 0..15, src2 rows 0..15, src1 rows 16..31 and so on. n is
// the fused width, so each source contributes n/2 rows.
func PrepareB2[T dtype.Source](dst []dtype.BF16, src1, src2 []T, stride, n, k int) PackedB {
	if n%2 != 0 {
		exceptions.Panicf("kernel: interleaved width %d is odd", n)
	}
	p := newPacked(dst, n, k)
	half := n / 2
	for nb := 0; nb < p.NBlocks; nb++ {
		n0 := nb * TileN
		rows := min(max(half-n0, 0), TileN)
		for kt := 0; kt < p.KTiles; kt++ {
			base := nb*p.KTiles*blockElems + kt*blockElems
			k0 := kt * TileK
			kw := min(k-k0, TileK)
			repackAt(p.Data[base:], src1, stride, n0, k0, rows, kw)
			repackAt(p.Data[base+tileElems:], src2, stride, n0, k0, rows, kw)
		}
	}
	return p
}

func newPacked(dst []dtype.BF16, n, k int) PackedB {
	if n <= 0 || k <= 0 {
		exceptions.Panicf("kernel: cannot repack %dx%d weights", n, k)
	}
	size := PackedSize(n, k)
	if len(dst) < size {
		exceptions.Panicf("kernel: repack of %dx%d needs %d elements, have %d", n, k, size, len(dst))
	}
	return PackedB{
		Data:    dst[:size:size],
		N:       n,
		K:       k,
		NBlocks: ceilDiv(n, BlockN),
		KTiles:  ceilDiv(k, TileK),
	}
}

func repackAt[T dtype.Source](dst []dtype.BF16, src []T, stride, n0, k0, rows, cols int) {
	if rows == 0 {
		clear(dst[:tileElems])
		return
	}
	RepackTile(dst, src[n0*stride+k0:], stride, rows, cols)
}

// Unpack reads p back into a dense N x K f32 matrix through Index.
func Unpack(p PackedB) tensor.View[float32] {
	out := tensor.New[float32](p.N, p.K)
	for n := 0; n < p.N; n++ {
		row := out.Row(n)
		for k := range row {
			row[k] = dtype.Widen(p.At(n, k))
		}
	}
	return out
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func roundUp(a, b int) int { return ceilDiv(a, b) * b }
