// Package tensor provides strided 2-D views over typed slices.
package tensor

import (
	"math/rand"

	"github.com/gomlx/exceptions"

	"github.com/samcharles93/mlpcore/internal/dtype"
)

// View is a row-major 2-D window over a slice.
//
// Rows and Cols give the logical shape. Stride is the number of elements
// between the starts of two consecutive rows and may exceed Cols when the view
// addresses a sub-block of a wider buffer. Indexing relies on Go's slice
// checks; construction validates that the last row fits in Data.
type View[T any] struct {
	Data   []T
	Rows   int
	Cols   int
	Stride int
}

// New allocates a zeroed rows x cols view with a dense stride.
func New[T any](rows, cols int) View[T] {
	if rows < 0 || cols < 0 {
		exceptions.Panicf("tensor: negative dimension %dx%d", rows, cols)
	}
	return View[T]{Data: make([]T, rows*cols), Rows: rows, Cols: cols, Stride: cols}
}

// FromSlice wraps data as a rows x cols view with the given stride.
func FromSlice[T any](data []T, rows, cols, stride int) View[T] {
	if rows < 0 || cols < 0 || stride < cols {
		exceptions.Panicf("tensor: bad view shape %dx%d stride %d", rows, cols, stride)
	}
	if rows > 0 && (rows-1)*stride+cols > len(data) {
		exceptions.Panicf("tensor: view %dx%d stride %d exceeds %d elements", rows, cols, stride, len(data))
	}
	return View[T]{Data: data, Rows: rows, Cols: cols, Stride: stride}
}

// Row returns row i limited to Cols elements.
func (v View[T]) Row(i int) []T {
	off := i * v.Stride
	return v.Data[off : off+v.Cols]
}

func (v View[T]) At(i, j int) T { return v.Data[i*v.Stride+j] }

func (v View[T]) Set(i, j int, x T) { v.Data[i*v.Stride+j] = x }

// Sub returns the rows x cols window starting at (r0, c0). The window shares
// storage with v.
func (v View[T]) Sub(r0, c0, rows, cols int) View[T] {
	if r0 < 0 || c0 < 0 || rows < 0 || cols < 0 || r0+rows > v.Rows || c0+cols > v.Cols {
		exceptions.Panicf("tensor: sub [%d:%d, %d:%d] outside %dx%d", r0, r0+rows, c0, c0+cols, v.Rows, v.Cols)
	}
	if rows == 0 {
		return View[T]{Rows: 0, Cols: cols, Stride: v.Stride}
	}
	return View[T]{Data: v.Data[r0*v.Stride+c0:], Rows: rows, Cols: cols, Stride: v.Stride}
}

// Offset returns the view moved by c columns with the same row count. Unlike
// Sub it allows the window to run past Cols into stride padding.
func (v View[T]) Offset(c int) View[T] {
	if c < 0 || c > v.Stride {
		exceptions.Panicf("tensor: column offset %d outside stride %d", c, v.Stride)
	}
	cols := max(v.Cols-c, 0)
	if v.Rows == 0 || c >= len(v.Data) {
		return View[T]{Rows: v.Rows, Cols: cols, Stride: v.Stride}
	}
	return View[T]{Data: v.Data[c:], Rows: v.Rows, Cols: cols, Stride: v.Stride}
}

// Dense copies v into a freshly allocated view with Stride == Cols.
func (v View[T]) Dense() View[T] {
	out := New[T](v.Rows, v.Cols)
	for i := 0; i < v.Rows; i++ {
		copy(out.Row(i), v.Row(i))
	}
	return out
}

// FillRand fills v with reproducible values in roughly (-scale/2, scale/2).
// The same seed always produces the same contents.
func FillRand(v View[float32], seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < v.Rows; i++ {
		row := v.Row(i)
		for j := range row {
			row[j] = (rng.Float32() - 0.5) * scale
		}
	}
}

// Narrow converts an f32 view into a dense bf16 view.
func Narrow(v View[float32]) View[dtype.BF16] {
	out := New[dtype.BF16](v.Rows, v.Cols)
	for i := 0; i < v.Rows; i++ {
		dtype.NarrowSlice(out.Row(i), v.Row(i))
	}
	return out
}

// Widen converts a bf16 view into a dense f32 view.
func Widen(v View[dtype.BF16]) View[float32] {
	out := New[float32](v.Rows, v.Cols)
	for i := 0; i < v.Rows; i++ {
		dtype.WidenSlice(out.Row(i), v.Row(i))
	}
	return out
}

// Convert narrows or widens any source view to f32.
func Convert[T dtype.Source](v View[T]) View[float32] {
	out := New[float32](v.Rows, v.Cols)
	for i := 0; i < v.Rows; i++ {
		src, dst := v.Row(i), out.Row(i)
		for j, x := range src {
			dst[j] = dtype.ToFloat32(x)
		}
	}
	return out
}
