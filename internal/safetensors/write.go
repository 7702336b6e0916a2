package safetensors

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"

	"github.com/goccy/go-json"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/tensor"
)

// Tensor is one entry to be written: little-endian bytes of Shape in Kind.
type Tensor struct {
	Name  string
	Kind  dtype.Kind
	Shape []int
	Data  []byte
}

// Encode serialises a view, dropping any stride padding.
func Encode[T dtype.Source](name string, v tensor.View[T]) Tensor {
	kind := dtype.KindOf[T]()
	buf := make([]byte, 0, v.Rows*v.Cols*kind.Size())
	for i := 0; i < v.Rows; i++ {
		for _, x := range v.Row(i) {
			switch e := any(x).(type) {
			case float32:
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e))
			case float16.Float16:
				buf = binary.LittleEndian.AppendUint16(buf, e.Bits())
			case bfloat16.BFloat16:
				buf = binary.LittleEndian.AppendUint16(buf, uint16(e))
			}
		}
	}
	return Tensor{Name: name, Kind: kind, Shape: []int{v.Rows, v.Cols}, Data: buf}
}

// Write creates path holding tensors in order. The header is padded with
// spaces so tensor data starts 8-byte aligned.
func Write(path string, tensors []Tensor, metadata map[string]string) (err error) {
	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var off int64
	for _, t := range tensors {
		if _, dup := header[t.Name]; dup || t.Name == "" {
			return errors.Errorf("safetensors: invalid or duplicate tensor name %q", t.Name)
		}
		n := 1
		for _, d := range t.Shape {
			n *= d
		}
		if n*t.Kind.Size() != len(t.Data) || t.Kind == dtype.KindInvalid {
			return errors.Errorf("safetensors: tensor %s: %d bytes do not match %v %s", t.Name, len(t.Data), t.Shape, t.Kind)
		}
		header[t.Name] = tensorHeader{
			DType:       t.Kind.String(),
			Shape:       t.Shape,
			DataOffsets: []int64{off, off + int64(len(t.Data))},
		}
		off += int64(len(t.Data))
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}
	for len(hb)%8 != 0 {
		hb = append(hb, ' ')
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hb)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(hb); err != nil {
		return err
	}
	for _, t := range tensors {
		if _, err := w.Write(t.Data); err != nil {
			return errors.Wrapf(err, "write tensor %s", t.Name)
		}
	}
	return w.Flush()
}
