package mlp

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/kernel"
	"github.com/samcharles93/mlpcore/internal/logger"
	"github.com/samcharles93/mlpcore/internal/tensor"
	"github.com/samcharles93/mlpcore/internal/tile"
)

// LayerConfig controls how a Layer partitions and blocks its GEMMs.
type LayerConfig struct {
	// Threads is the number of works per stage; 0 uses the pool size.
	Threads int
	// BlkKSize is the K cache-block depth.
	BlkKSize int
	// MBlock is the number of activation rows processed per pass.
	MBlock int
	// SplitK splits the down projection into two K groups whose partial
	// sums are reduced at the end.
	SplitK     bool
	Activation kernel.ActivationKind
	// NewUnit creates the tile unit of one work. Defaults to tile.NewSoft.
	NewUnit func() tile.Unit
}

func (c LayerConfig) withDefaults(pool *Pool) LayerConfig {
	if c.Threads <= 0 {
		c.Threads = pool.Size()
	}
	if c.BlkKSize <= 0 {
		c.BlkKSize = DefaultBlkKSize
	}
	if c.MBlock <= 0 {
		c.MBlock = DefaultMBlock
	}
	if c.NewUnit == nil {
		c.NewUnit = func() tile.Unit { return tile.NewSoft() }
	}
	return c
}

// Weights are the three projections of a gated MLP: Gate and Up are
// [inter, hidden], Down is [hidden, inter].
type Weights[T dtype.Source] struct {
	Gate, Up, Down tensor.View[T]
}

// Dims returns the hidden and intermediate sizes.
func (w Weights[T]) Dims() (hidden, inter int) { return w.Gate.Cols, w.Gate.Rows }

func (w Weights[T]) validate() error {
	h, i := w.Dims()
	switch {
	case h <= 0 || i <= 0:
		return errors.Errorf("mlp: gate projection is %dx%d", w.Gate.Rows, w.Gate.Cols)
	case w.Up.Rows != i || w.Up.Cols != h:
		return errors.Errorf("mlp: up projection is %dx%d, want %dx%d", w.Up.Rows, w.Up.Cols, i, h)
	case w.Down.Rows != h || w.Down.Cols != i:
		return errors.Errorf("mlp: down projection is %dx%d, want %dx%d", w.Down.Rows, w.Down.Cols, h, i)
	case w.Gate.Stride != w.Up.Stride:
		return errors.Errorf("mlp: gate stride %d differs from up stride %d", w.Gate.Stride, w.Up.Stride)
	}
	return nil
}

type merge struct {
	n0, n1        int
	first, second *Work
}

// Stats describes a Layer's partitioning and memory.
type Stats struct {
	Hidden           int `json:"hidden"`
	Intermediate     int `json:"intermediate"`
	Threads          int `json:"threads"`
	GateUpWorks      int `json:"gate_up_works"`
	DownWorks        int `json:"down_works"`
	Merges           int `json:"merges"`
	StagingBytes     int `json:"staging_bytes"`
	AccumulatorBytes int `json:"accumulator_bytes"`
	Reconfigs        int `json:"reconfigs"`
}

// Layer runs a gated MLP, out = (act(x Gate^T) * (x Up^T)) Down^T, on the
// blocked tile kernel. Forward is not safe for concurrent use.
type Layer struct {
	cfg           LayerConfig
	hidden, inter int
	pool          *Pool
	log           logger.Logger

	gateUp, down       []*Work
	gateUpBuf, downBuf *WeightBuffer
	merges             []merge

	combine kernel.Combiner
	reduce  *kernel.ReduceConvert
	convert *kernel.ReduceConvert

	arena          []float32
	gateUpC, downC [][]float32
	act            []dtype.BF16
	out            []dtype.BF16
}

// NewLayer plans both stages, repacks the weights in parallel and sizes the
// accumulators for cfg.MBlock rows.
func NewLayer[T dtype.Source](cfg LayerConfig, kern *kernel.BlockedGemm, pool *Pool, w Weights[T], log logger.Logger) (*Layer, error) {
	if kern == nil || pool == nil {
		return nil, errors.New("mlp: kernel and pool are required")
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	cfg = cfg.withDefaults(pool)
	hidden, inter := w.Dims()
	kGroups := 1
	if cfg.SplitK && cfg.Threads >= 2 {
		kGroups = 2
	}

	gateUpPlan, err := PlanWorks(2*inter, hidden, cfg.Threads, cfg.BlkKSize, 1)
	if err != nil {
		return nil, errors.Wrap(err, "plan gate/up")
	}
	downPlan, err := PlanWorks(hidden, inter, cfg.Threads, cfg.BlkKSize, kGroups)
	if err != nil {
		return nil, errors.Wrap(err, "plan down")
	}

	l := &Layer{
		cfg:       cfg,
		hidden:    hidden,
		inter:     inter,
		pool:      pool,
		log:       log,
		gateUpBuf: NewWeightBuffer(gateUpPlan),
		downBuf:   NewWeightBuffer(downPlan),
		combine:   kernel.NewCombiner(cfg.Activation),
		reduce:    kernel.NewReduceConvert(true),
		convert:   kernel.NewReduceConvert(false),
	}

	var g errgroup.Group
	g.SetLimit(cfg.Threads)
	for i, wk := range gateUpPlan {
		if wk.Empty() {
			continue
		}
		g.Go(func() error {
			return SetupWorkInterleaved(wk, kern, cfg.NewUnit(), l.gateUpBuf.Get(i), w.Gate.Data, w.Up.Data, w.Gate.Stride)
		})
	}
	for i, wk := range downPlan {
		if wk.Empty() {
			continue
		}
		g.Go(func() error {
			return SetupWork(wk, kern, cfg.NewUnit(), l.downBuf.Get(i), w.Down.Data, w.Down.Stride)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "set up works")
	}

	for _, i := range Active(gateUpPlan) {
		l.gateUp = append(l.gateUp, gateUpPlan[i])
	}
	for _, i := range Active(downPlan) {
		l.down = append(l.down, downPlan[i])
	}
	l.planMerges()
	l.allocAccumulators()
	l.act = make([]dtype.BF16, cfg.MBlock*inter)

	for _, wk := range l.gateUp {
		log.Debug("work ready", "stage", "gate_up", "work", wk.String(), "blocks", wk.NumBlocks())
	}
	for _, wk := range l.down {
		log.Debug("work ready", "stage", "down", "work", wk.String(), "blocks", wk.NumBlocks())
	}
	log.Info("mlp layer ready",
		"hidden", hidden,
		"intermediate", inter,
		"dtype", dtype.KindOf[T]().String(),
		"gate_up_works", len(l.gateUp),
		"down_works", len(l.down),
		"k_groups", kGroups,
		"staging", humanize.Bytes(uint64(l.gateUpBuf.Bytes()+l.downBuf.Bytes())),
		"accumulators", humanize.Bytes(uint64(4*len(l.arena))),
	)
	return l, nil
}

// planMerges pairs down works covering the same N range across K groups.
func (l *Layer) planMerges() {
	byRange := make(map[[2]int]int)
	for _, wk := range l.down {
		key := [2]int{wk.N0, wk.N1}
		if idx, ok := byRange[key]; ok {
			l.merges[idx].second = wk
			continue
		}
		byRange[key] = len(l.merges)
		l.merges = append(l.merges, merge{n0: wk.N0, n1: wk.N1, first: wk})
	}
}

// allocAccumulators carves every work's accumulator for MBlock rows out of
// one arena.
func (l *Layer) allocAccumulators() {
	total := 0
	for _, wk := range l.gateUp {
		total += wk.CBytes(l.cfg.MBlock) / 4
	}
	for _, wk := range l.down {
		total += wk.CBytes(l.cfg.MBlock) / 4
	}
	l.arena = make([]float32, total)
	off := 0
	carve := func(works []*Work) [][]float32 {
		regions := make([][]float32, len(works))
		for i, wk := range works {
			n := wk.CBytes(l.cfg.MBlock) / 4
			regions[i] = l.arena[off : off+n : off+n]
			off += n
		}
		return regions
	}
	l.gateUpC = carve(l.gateUp)
	l.downC = carve(l.down)
}

// Dims returns the hidden and intermediate sizes.
func (l *Layer) Dims() (hidden, inter int) { return l.hidden, l.inter }

// Config returns the effective configuration.
func (l *Layer) Config() LayerConfig { return l.cfg }

// Stats reports the layer's partitioning and memory use.
func (l *Layer) Stats() Stats {
	s := Stats{
		Hidden:           l.hidden,
		Intermediate:     l.inter,
		Threads:          l.cfg.Threads,
		GateUpWorks:      len(l.gateUp),
		DownWorks:        len(l.down),
		Merges:           len(l.merges),
		StagingBytes:     l.gateUpBuf.Bytes() + l.downBuf.Bytes(),
		AccumulatorBytes: 4 * len(l.arena),
	}
	for _, wk := range l.gateUp {
		s.Reconfigs += wk.Guard().Reconfigs()
	}
	for _, wk := range l.down {
		s.Reconfigs += wk.Guard().Reconfigs()
	}
	return s
}

// Forward computes the layer for every row of x, which must be [M, hidden].
// The returned [M, hidden] view is owned by the layer and overwritten by the
// next call.
func (l *Layer) Forward(x tensor.View[dtype.BF16]) tensor.View[dtype.BF16] {
	if x.Cols != l.hidden {
		exceptions.Panicf("mlp: input has %d columns, layer expects %d", x.Cols, l.hidden)
	}
	m := x.Rows
	if len(l.out) < m*l.hidden {
		l.out = make([]dtype.BF16, m*l.hidden)
	}
	out := tensor.FromSlice(l.out[:m*l.hidden], m, l.hidden, l.hidden)
	for m0 := 0; m0 < m; m0 += l.cfg.MBlock {
		rows := min(l.cfg.MBlock, m-m0)
		l.forwardBlock(x.Sub(m0, 0, rows, l.hidden), out.Sub(m0, 0, rows, l.hidden))
	}
	return out
}

func (l *Layer) forwardBlock(x tensor.View[dtype.BF16], out tensor.View[dtype.BF16]) {
	m := x.Rows
	act := tensor.FromSlice(l.act[:m*l.inter], m, l.inter, l.inter)

	l.pool.Run(len(l.gateUp), func(i int) {
		wk := l.gateUp[i]
		wk.SetC(m, l.gateUpC[i])
		wk.Run(m, x)
		c := wk.C()
		l.combine.Call(c.Data, c.Stride, act.Data[wk.N0/2:], act.Stride, m, wk.BN)
	})

	l.pool.Run(len(l.down), func(i int) {
		wk := l.down[i]
		wk.SetC(m, l.downC[i])
		wk.Run(m, act)
	})

	l.pool.Run(len(l.merges), func(i int) {
		mg := l.merges[i]
		dst := out.Data[mg.n0:]
		c0 := mg.first.C()
		if mg.second == nil {
			l.convert.Convert(c0.Data, c0.Stride, dst, out.Stride, m, mg.n1-mg.n0)
			return
		}
		l.reduce.Reduce(c0.Data, mg.second.C().Data, c0.Stride, dst, out.Stride, m, mg.n1-mg.n0)
	})
}
