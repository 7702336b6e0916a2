package mlp

import "sync"

// Shape keys a tuning result: M rows through a hidden x inter layer.
type Shape struct {
	M, Hidden, Inter int
}

type tuned struct {
	cfg   LayerConfig
	score float64
}

// Autotuner remembers the best-scoring layer configuration per shape.
type Autotuner struct {
	mu    sync.RWMutex
	cache map[Shape]tuned
}

func NewAutotuner() *Autotuner {
	return &Autotuner{cache: make(map[Shape]tuned)}
}

// Tune returns the cached configuration for shape, or scores base and its
// candidates with run (higher is better) and caches the winner.
func (t *Autotuner) Tune(shape Shape, base LayerConfig, run func(LayerConfig) float64) LayerConfig {
	t.mu.RLock()
	if r, ok := t.cache[shape]; ok {
		t.mu.RUnlock()
		return r.cfg
	}
	t.mu.RUnlock()

	best := tuned{cfg: base, score: run(base)}
	for _, cfg := range Candidates(base, shape) {
		if s := run(cfg); s > best.score {
			best = tuned{cfg: cfg, score: s}
		}
	}

	t.mu.Lock()
	t.cache[shape] = best
	t.mu.Unlock()
	return best.cfg
}

// Score returns the cached score of shape.
func (t *Autotuner) Score(shape Shape) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.cache[shape]
	return r.score, ok
}

// Candidates varies the K block depth around base and toggles the down
// K split. Depths stay multiples of 32 no deeper than the hidden size.
func Candidates(base LayerConfig, shape Shape) []LayerConfig {
	blk := base.BlkKSize
	if blk <= 0 {
		blk = DefaultBlkKSize
	}
	var out []LayerConfig
	seen := map[int]bool{blk: true}
	for _, b := range []int{blk / 2, blk * 2, 128, 512} {
		b = b / rowStep * rowStep
		if b <= 0 || seen[b] || (shape.Hidden > 0 && b > roundUpRows(shape.Hidden)) {
			continue
		}
		seen[b] = true
		cfg := base
		cfg.BlkKSize = b
		out = append(out, cfg)
	}
	split := base
	split.BlkKSize = blk
	split.SplitK = !base.SplitK
	return append(out, split)
}

func roundUpRows(n int) int { return ceilDiv(n, rowStep) * rowStep }
