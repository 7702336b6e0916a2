package mlp

import (
	"github.com/pkg/errors"
)

// PlanWorks splits an [n,k] weight matrix over threads works. K is cut into
// kGroups 32-aligned groups; within a group N is cut into 32-aligned ranges,
// the last possibly short, spread evenly over threads/kGroups works. The
// result always holds threads works, ordered by group; threads left without
// a range get empty works. OutputID is the K group.
func PlanWorks(n, k, threads, blkKSize, kGroups int) ([]*Work, error) {
	switch {
	case n <= 0 || k <= 0:
		return nil, errors.Errorf("mlp: cannot plan a %dx%d matrix", n, k)
	case blkKSize <= 0:
		return nil, errors.Errorf("mlp: block size %d", blkKSize)
	case kGroups <= 0:
		return nil, errors.Errorf("mlp: %d K groups", kGroups)
	case threads < kGroups:
		return nil, errors.Errorf("mlp: %d threads cannot cover %d K groups", threads, kGroups)
	}

	kPer := ceilDiv(ceilDiv(k, kGroups), rowStep) * rowStep
	perGroup := threads / kGroups
	nBlocks := ceilDiv(n, rowStep)

	works := make([]*Work, 0, threads)
	for g := 0; g < kGroups; g++ {
		k0, k1 := min(g*kPer, k), min((g+1)*kPer, k)
		for t := 0; t < perGroup; t++ {
			b0, b1 := t*nBlocks/perGroup, (t+1)*nBlocks/perGroup
			n0, n1 := min(b0*rowStep, n), min(b1*rowStep, n)
			if k0 >= k1 {
				n1 = n0
			}
			works = append(works, NewWork(n0, n1, k0, k1, blkKSize, g))
		}
	}
	for len(works) < threads {
		works = append(works, NewWork(0, 0, 0, 0, blkKSize, 0))
	}
	return works, nil
}

// Coverage checks that the non-empty works tile [0,n) x [0,k) exactly.
func Coverage(works []*Work, n, k int) error {
	area := 0
	var active []*Work
	for _, w := range works {
		if w.Empty() {
			continue
		}
		if w.N0 < 0 || w.N1 > n || w.K0 < 0 || w.K1 > k || w.K1 <= w.K0 {
			return errors.Errorf("mlp: %s outside [0,%d)x[0,%d)", w, n, k)
		}
		for _, o := range active {
			if w.N0 < o.N1 && o.N0 < w.N1 && w.K0 < o.K1 && o.K0 < w.K1 {
				return errors.Errorf("mlp: %s overlaps %s", w, o)
			}
		}
		active = append(active, w)
		area += w.BN * (w.K1 - w.K0)
	}
	if area != n*k {
		return errors.Errorf("mlp: works cover %d of %d elements", area, n*k)
	}
	return nil
}

// Active returns the indices of the non-empty works.
func Active(works []*Work) []int {
	var idx []int
	for i, w := range works {
		if !w.Empty() {
			idx = append(idx, i)
		}
	}
	return idx
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
