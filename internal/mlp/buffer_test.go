package mlp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWeightBufferRegions(t *testing.T) {
	works, err := PlanWorks(100, 130, 4, 64, 1)
	require.NoError(t, err)
	buf := NewWeightBuffer(works)

	total := 0
	for i, w := range works {
		region := buf.Get(i)
		require.Len(t, region, w.Footprint())
		require.Equal(t, total, buf.Offset(i))
		require.Equal(t, len(region), cap(region), "region must not reach into its neighbour")
		total += w.Footprint()
	}
	require.Equal(t, total, buf.Len())
	require.Equal(t, 2*total, buf.Bytes())
	require.Panics(t, func() { buf.Get(len(works)) })
}

func TestWeightBufferEmptyWorks(t *testing.T) {
	works, err := PlanWorks(32, 64, 3, 64, 1)
	require.NoError(t, err)
	buf := NewWeightBuffer(works)
	for _, i := range []int{0, 1} {
		require.Empty(t, buf.Get(i))
	}
	require.Len(t, buf.Get(2), works[2].Footprint())
}
