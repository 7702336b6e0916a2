package mlp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanWorksCovers(t *testing.T) {
	tests := []struct {
		name                string
		n, k, threads, kGrp int
	}{
		{name: "single", n: 32, k: 32, threads: 1, kGrp: 1},
		{name: "aligned", n: 256, k: 512, threads: 4, kGrp: 1},
		{name: "ragged n", n: 100, k: 64, threads: 3, kGrp: 1},
		{name: "ragged k split", n: 96, k: 130, threads: 4, kGrp: 2},
		{name: "odd threads split", n: 512, k: 1000, threads: 5, kGrp: 2},
		{name: "more threads than blocks", n: 40, k: 64, threads: 8, kGrp: 1},
		{name: "tiny k split", n: 64, k: 16, threads: 2, kGrp: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			works, err := PlanWorks(tt.n, tt.k, tt.threads, 64, tt.kGrp)
			require.NoError(t, err)
			require.Len(t, works, tt.threads)
			require.NoError(t, Coverage(works, tt.n, tt.k))
			for _, w := range works {
				if w.Empty() {
					continue
				}
				require.Zero(t, w.N0%32, "%s", w)
				require.Zero(t, w.K0%32, "%s", w)
				require.Less(t, w.OutputID, tt.kGrp)
				require.Equal(t, 64, w.BlkKSize)
			}
		})
	}
}

func TestPlanWorksBalances(t *testing.T) {
	works, err := PlanWorks(320, 64, 4, 64, 1)
	require.NoError(t, err)
	// Ten 32-column blocks over four works: 2, 3, 2, 3.
	var widths []int
	for _, w := range works {
		widths = append(widths, w.BN)
	}
	require.Equal(t, []int{64, 96, 64, 96}, widths)
}

func TestPlanWorksSplitK(t *testing.T) {
	works, err := PlanWorks(64, 100, 4, 64, 2)
	require.NoError(t, err)
	// K groups are 64 and 36 wide and each gets two works.
	require.Equal(t, []int{0, 0, 1, 1}, []int{works[0].OutputID, works[1].OutputID, works[2].OutputID, works[3].OutputID})
	require.Equal(t, [2]int{0, 64}, [2]int{works[0].K0, works[0].K1})
	require.Equal(t, [2]int{64, 100}, [2]int{works[3].K0, works[3].K1})
}

func TestPlanWorksEmptyFill(t *testing.T) {
	works, err := PlanWorks(32, 64, 4, 64, 1)
	require.NoError(t, err)
	require.Equal(t, []int{3}, Active(works))
	require.Equal(t, 3, len(works)-len(Active(works)))

	// An odd thread count with two groups leaves one trailing empty work.
	works, err = PlanWorks(64, 64, 3, 64, 2)
	require.NoError(t, err)
	require.Len(t, works, 3)
	require.True(t, works[2].Empty())
}

func TestPlanWorksRejects(t *testing.T) {
	for _, args := range [][5]int{
		{0, 64, 1, 64, 1},
		{64, 0, 1, 64, 1},
		{64, 64, 1, 0, 1},
		{64, 64, 1, 64, 0},
		{64, 64, 1, 64, 2},
	} {
		_, err := PlanWorks(args[0], args[1], args[2], args[3], args[4])
		require.Errorf(t, err, "PlanWorks%v", args)
	}
}

func TestCoverageDetectsGapsAndOverlaps(t *testing.T) {
	gap := []*Work{NewWork(0, 32, 0, 64, 64, 0)}
	require.Error(t, Coverage(gap, 64, 64))

	overlap := []*Work{NewWork(0, 64, 0, 64, 64, 0), NewWork(32, 64, 0, 64, 64, 0)}
	require.ErrorContains(t, Coverage(overlap, 64, 64), "overlaps")

	outside := []*Work{NewWork(0, 96, 0, 64, 64, 0)}
	require.ErrorContains(t, Coverage(outside, 64, 64), "outside")
}
