package tile

import (
	"github.com/gomlx/exceptions"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/simd"
)

// pairs is the number of 32-bit lanes in one tile row.
const pairs = RowBytes / 4

// reg keeps a tile register widened to f32. A bf16 register stores the even
// element of each lane pair in lo and the odd one in hi; an f32 register
// only uses lo.
type reg struct {
	rows  int
	colsB int
	lo    [MaxRows][pairs]float32
	hi    [MaxRows][pairs]float32
}

// Soft is a register-accurate software Unit. It enforces the configuration
// rules of the hardware: every operation needs a loaded configuration and
// DPBF16PS checks the operand shapes.
type Soft struct {
	features   Features
	configured bool
	regs       [NumRegs]reg

	prefetches int
	sink       dtype.BF16
}

// NewSoft returns an unconfigured software unit.
func NewSoft() *Soft {
	return &Soft{features: Features{
		Tile:     true,
		BF16:     true,
		AVX2:     simd.Features().HasAVX2,
		Emulated: true,
	}}
}

func (s *Soft) Features() Features { return s.features }

// Prefetches reports how many prefetch hints the unit received.
func (s *Soft) Prefetches() int { return s.prefetches }

func (s *Soft) LoadConfig(cfg *Config) {
	if err := cfg.Validate(); err != nil {
		exceptions.Panicf("tile: load config: %v", err)
	}
	for t := range s.regs {
		r := &s.regs[t]
		*r = reg{rows: int(cfg.Rows[t]), colsB: int(cfg.ColsB[t])}
	}
	s.configured = true
}

func (s *Soft) Release() {
	s.configured = false
	for t := range s.regs {
		s.regs[t].rows, s.regs[t].colsB = 0, 0
	}
}

func (s *Soft) use(t int) *reg {
	if !s.configured {
		exceptions.Panicf("tile: register %d used without a loaded configuration", t)
	}
	if t < 0 || t >= NumRegs {
		exceptions.Panicf("tile: register %d out of range", t)
	}
	r := &s.regs[t]
	if r.rows == 0 {
		exceptions.Panicf("tile: register %d is not configured", t)
	}
	return r
}

func (s *Soft) Zero(t int) {
	r := s.use(t)
	r.lo = [MaxRows][pairs]float32{}
	r.hi = [MaxRows][pairs]float32{}
}

func (s *Soft) Load(t int, src []dtype.BF16, stride, cols int) {
	r := s.use(t)
	width := r.colsB / 2
	cols = min(max(cols, 0), width)
	for m := 0; m < r.rows; m++ {
		row := src[m*stride : m*stride+cols]
		lo, hi := &r.lo[m], &r.hi[m]
		*lo, *hi = [pairs]float32{}, [pairs]float32{}
		for k, v := range row {
			if k&1 == 0 {
				lo[k>>1] = dtype.Widen(v)
			} else {
				hi[k>>1] = dtype.Widen(v)
			}
		}
	}
}

func (s *Soft) LoadF32(t int, src []float32, stride int) {
	r := s.use(t)
	n := r.colsB / 4
	for m := 0; m < r.rows; m++ {
		copy(r.lo[m][:n], src[m*stride:m*stride+n])
	}
}

func (s *Soft) Store(t int, dst []float32, stride int) {
	r := s.use(t)
	n := r.colsB / 4
	for m := 0; m < r.rows; m++ {
		copy(dst[m*stride:m*stride+n], r.lo[m][:n])
	}
}

func (s *Soft) DPBF16PS(c, a, b int) {
	rc, ra, rb := s.use(c), s.use(a), s.use(b)
	if c == a || c == b {
		exceptions.Panicf("tile: dpbf16ps destination %d aliases a source", c)
	}
	if rc.rows != ra.rows || ra.colsB/4 != rb.rows || rc.colsB != rb.colsB {
		exceptions.Panicf("tile: dpbf16ps shape mismatch c=%dx%d a=%dx%d b=%dx%d",
			rc.rows, rc.colsB, ra.rows, ra.colsB, rb.rows, rb.colsB)
	}
	n := rc.colsB / 4
	for m := 0; m < ra.rows; m++ {
		acc := rc.lo[m][:n]
		for p := 0; p < rb.rows; p++ {
			simd.Axpy2(acc, ra.lo[m][p], rb.lo[p][:n], ra.hi[m][p], rb.hi[p][:n])
		}
	}
}

func (s *Soft) Prefetch(p []dtype.BF16) {
	s.prefetches++
	if len(p) > 0 {
		s.sink = p[0]
	}
}
