package kernel

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/tensor"
	"github.com/samcharles93/mlpcore/internal/tile"
)

// gemmNaive computes C = A x W^T in float64 from the bf16 operands.
func gemmNaive(a tensor.View[dtype.BF16], w tensor.View[float32]) tensor.View[float32] {
	c := tensor.New[float32](a.Rows, w.Rows)
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < w.Rows; j++ {
			var sum float64
			for k := 0; k < a.Cols; k++ {
				sum += float64(dtype.Widen(a.At(i, k))) * float64(dtype.Widen(dtype.Narrow(w.At(j, k))))
			}
			c.Set(i, j, float32(sum))
		}
	}
	return c
}

func maxAbsDiff(got, want tensor.View[float32]) float64 {
	var maxAbs float64
	for i := 0; i < want.Rows; i++ {
		for j := 0; j < want.Cols; j++ {
			d := float64(got.At(i, j) - want.At(i, j))
			if d < 0 {
				d = -d
			}
			maxAbs = max(maxAbs, d)
		}
	}
	return maxAbs
}

func randActivations(seed int64, m, k int) tensor.View[dtype.BF16] {
	x := tensor.New[float32](m, k)
	tensor.FillRand(x, seed, 2)
	return tensor.Narrow(x)
}

// runBlocked drives the kernel the way a Work does: body rows under the
// full configuration, tail rows under their own.
func runBlocked(t *testing.T, g *BlockedGemm, a tensor.View[dtype.BF16], p PackedB, c tensor.View[float32], accumulate bool) {
	t.Helper()
	u := tile.NewSoft()
	guard := tile.NewGuard(u)
	cfgs := tile.GemmConfigs()
	m := a.Rows
	tail := m % 32
	body := m - tail
	if body > 0 {
		guard.Configure(cfgs[0])
		g.Run(u, body, a, p, c, p, accumulate)
	}
	if tail > 0 {
		guard.Configure(cfgs[tail])
		g.Run(u, tail, a.Sub(body, 0, tail, a.Cols), p, c.Sub(body, 0, c.Rows-body, c.Cols), p, accumulate)
	}
	guard.Configure(nil)
}

func TestBlockedGemmMatchesNaive(t *testing.T) {
	g, err := NewBlockedGemm(tile.NewSoft().Features(), DefaultMHint)
	require.NoError(t, err)

	for _, mnk := range [][3]int{
		{1, 32, 32}, {16, 32, 32}, {31, 64, 33}, {32, 32, 64},
		{33, 16, 31}, {47, 96, 100}, {64, 33, 1},
	} {
		m, n, k := mnk[0], mnk[1], mnk[2]
		a := randActivations(int64(m), m, k)
		w := randWeights(int64(n+k), n, k)
		p := PrepareB(make([]dtype.BF16, PackedSize(n, k)), w.Data, w.Stride, n, k)
		stride := p.NBlocks * BlockN
		c := tensor.FromSlice(make([]float32, (m+31)/32*32*stride), (m+31)/32*32, n, stride)

		runBlocked(t, g, a, p, c, false)
		want := gemmNaive(a, w)
		require.LessOrEqualf(t, maxAbsDiff(c, want), 1e-3, "M=%d N=%d K=%d", m, n, k)
	}
}

func TestBlockedGemmAccumulates(t *testing.T) {
	g, err := NewBlockedGemm(tile.NewSoft().Features(), 0)
	require.NoError(t, err)
	const m, n, k = 40, 32, 64
	a := randActivations(11, m, k)
	w := randWeights(12, n, k)
	p := PrepareB(make([]dtype.BF16, PackedSize(n, k)), w.Data, w.Stride, n, k)
	c := tensor.New[float32](64, n)

	runBlocked(t, g, a, p, c, false)
	runBlocked(t, g, a, p, c, true)
	want := gemmNaive(a, w)
	for i := range want.Data {
		want.Data[i] *= 2
	}
	require.LessOrEqual(t, maxAbsDiff(c, want), 2e-3)
}

func TestBlockedGemmMasksK(t *testing.T) {
	// Columns past the block's K hold NaN; the kernel must not read them.
	g, err := NewBlockedGemm(tile.NewSoft().Features(), DefaultMHint)
	require.NoError(t, err)
	const m, n, k = 8, 32, 20
	x := tensor.New[float32](m, 32)
	for i := range x.Data {
		x.Data[i] = 0.5
	}
	a := tensor.Narrow(x)
	for i := 0; i < m; i++ {
		for j := k; j < 32; j++ {
			a.Set(i, j, dtype.BF16(0x7FC0))
		}
	}
	w := randWeights(13, n, k)
	p := PrepareB(make([]dtype.BF16, PackedSize(n, k)), w.Data, w.Stride, n, k)
	c := tensor.New[float32](32, n)
	runBlocked(t, g, a, p, c, false)
	want := gemmNaive(a.Sub(0, 0, m, k), w)
	require.LessOrEqual(t, maxAbsDiff(c, want), 1e-3)
}

func TestBlockedGemmPrefetchesNextBlock(t *testing.T) {
	g, err := NewBlockedGemm(tile.NewSoft().Features(), DefaultMHint)
	require.NoError(t, err)
	require.Equal(t, 4, g.PrefetchLines())

	u := tile.NewSoft()
	u.LoadConfig(tile.GemmConfig(32))
	a := randActivations(1, 64, 32)
	w := randWeights(2, 32, 32)
	p := PrepareB(make([]dtype.BF16, PackedSize(32, 32)), w.Data, w.Stride, 32, 32)
	c := tensor.New[float32](64, 32)
	g.Run(u, 64, a, p, c, p, false)
	require.Equal(t, 2*g.PrefetchLines(), u.Prefetches())

	off, err := NewBlockedGemm(tile.NewSoft().Features(), 0)
	require.NoError(t, err)
	u2 := tile.NewSoft()
	u2.LoadConfig(tile.GemmConfig(32))
	off.Run(u2, 64, a, p, c, p, false)
	require.Zero(t, u2.Prefetches())
}

func TestNewBlockedGemmNeedsTileSupport(t *testing.T) {
	_, err := NewBlockedGemm(tile.Features{Tile: true}, DefaultMHint)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNoTileSupport))

	_, err = NewBlockedGemm(tile.NewSoft().Features(), -1)
	require.Error(t, err)
}

func TestBlockedGemmContract(t *testing.T) {
	g, err := NewBlockedGemm(tile.NewSoft().Features(), DefaultMHint)
	require.NoError(t, err)
	w := randWeights(2, 32, 64)
	p := PrepareB(make([]dtype.BF16, PackedSize(32, 64)), w.Data, w.Stride, 32, 64)
	u := tile.NewSoft()
	u.LoadConfig(tile.GemmConfig(32))

	require.Panics(t, func() {
		g.Run(u, 32, randActivations(1, 32, 32), p, tensor.New[float32](32, 32), p, false)
	}, "A narrower than K")
	require.Panics(t, func() {
		g.Run(u, 32, randActivations(1, 32, 64), p, tensor.New[float32](16, 32), p, false)
	}, "C shorter than M")
	require.Panics(t, func() {
		g.Run(tile.NewSoft(), 32, randActivations(1, 32, 64), p, tensor.New[float32](32, 32), p, false)
	}, "unconfigured unit")
}

func BenchmarkBlockedGemm(b *testing.B) {
	g, err := NewBlockedGemm(tile.NewSoft().Features(), DefaultMHint)
	require.NoError(b, err)
	const m, n, k = 64, 64, 256
	a := randActivations(1, m, k)
	w := randWeights(2, n, k)
	p := PrepareB(make([]dtype.BF16, PackedSize(n, k)), w.Data, w.Stride, n, k)
	c := tensor.New[float32](m, n)
	u := tile.NewSoft()
	u.LoadConfig(tile.GemmConfig(32))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Run(u, m, a, p, c, p, i > 0)
	}
}
