package mlp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidates(t *testing.T) {
	base := LayerConfig{BlkKSize: 256}
	got := Candidates(base, Shape{M: 64, Hidden: 1024, Inter: 2048})
	var blks []int
	for _, c := range got[:len(got)-1] {
		blks = append(blks, c.BlkKSize)
		require.False(t, c.SplitK)
	}
	require.Equal(t, []int{128, 512}, blks)
	last := got[len(got)-1]
	require.True(t, last.SplitK)
	require.Equal(t, 256, last.BlkKSize)

	// Small hidden sizes cap the depth.
	for _, c := range Candidates(base, Shape{Hidden: 100}) {
		require.LessOrEqual(t, c.BlkKSize, 256)
	}
}

func TestAutotunerPicksBestAndCaches(t *testing.T) {
	tuner := NewAutotuner()
	shape := Shape{M: 32, Hidden: 512, Inter: 512}
	calls := 0
	score := func(c LayerConfig) float64 {
		calls++
		if c.BlkKSize == 512 {
			return 10
		}
		return 1
	}
	cfg := tuner.Tune(shape, LayerConfig{BlkKSize: 256}, score)
	require.Equal(t, 512, cfg.BlkKSize)
	s, ok := tuner.Score(shape)
	require.True(t, ok)
	require.Equal(t, float64(10), s)

	n := calls
	require.Equal(t, cfg, tuner.Tune(shape, LayerConfig{}, score))
	require.Equal(t, n, calls, "cached shape must not be re-run")

	_, ok = tuner.Score(Shape{M: 1})
	require.False(t, ok)
}
