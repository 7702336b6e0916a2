package mlp

import (
	"github.com/gomlx/exceptions"

	"github.com/samcharles93/mlpcore/internal/dtype"
)

// WeightBuffer is one allocation holding the repacked weights of every
// work, each at its own offset. It is sized once; new weights need a new
// buffer.
type WeightBuffer struct {
	data    []dtype.BF16
	offsets []int
	sizes   []int
}

// NewWeightBuffer allocates room for works, indexed like works. Empty works
// get a zero-length region.
func NewWeightBuffer(works []*Work) *WeightBuffer {
	b := &WeightBuffer{
		offsets: make([]int, len(works)),
		sizes:   make([]int, len(works)),
	}
	total := 0
	for i, w := range works {
		b.offsets[i] = total
		b.sizes[i] = w.Footprint()
		total += b.sizes[i]
	}
	b.data = make([]dtype.BF16, total)
	return b
}

// Get returns the region of work id.
func (b *WeightBuffer) Get(id int) []dtype.BF16 {
	if id < 0 || id >= len(b.offsets) {
		exceptions.Panicf("mlp: weight buffer has no work %d", id)
	}
	off := b.offsets[id]
	return b.data[off : off+b.sizes[id] : off+b.sizes[id]]
}

// Offset returns the element offset of work id.
func (b *WeightBuffer) Offset(id int) int { return b.offsets[id] }

// Len returns the total element count.
func (b *WeightBuffer) Len() int { return len(b.data) }

// Bytes returns the total size in bytes.
func (b *WeightBuffer) Bytes() int { return 2 * len(b.data) }
