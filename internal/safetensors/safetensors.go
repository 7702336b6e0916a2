// Package safetensors reads and writes the safetensors weight format: an
// 8-byte little-endian header length, a JSON header mapping tensor names to
// dtype, shape and byte offsets, then the raw tensor bytes.
package safetensors

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"sort"
	"unsafe"

	"github.com/goccy/go-json"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/sys/unix"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/tensor"
)

// maxHeaderBytes bounds the JSON header.
const maxHeaderBytes = 100 << 20

var (
	ErrCorruptFile = errors.New("safetensors: corrupt file")
	ErrNotFound    = errors.New("safetensors: tensor not found")
)

type TensorInfo struct {
	DType string
	Kind  dtype.Kind
	Shape []int
	Start int64
	End   int64
}

// Elements returns the product of the shape.
func (t TensorInfo) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// File is an open safetensors file. Tensor views alias the file's memory,
// which is mapped read-only when possible, and are valid until Close.
type File struct {
	Path    string
	Tensors map[string]TensorInfo

	data      []byte
	dataStart int64
	mmapped   bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps path read-only and parses its header, falling back to reading
// the whole file when mmap is unavailable.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, errors.Wrapf(ErrCorruptFile, "%s: size %d", path, size64)
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	mmapped := err == nil
	if !mmapped {
		data = make([]byte, size)
		if _, err := io.ReadFull(io.NewSectionReader(f, 0, size64), data); err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
	}

	sf := &File{Path: path, data: data, mmapped: mmapped}
	if err := sf.parse(); err != nil {
		_ = sf.Close()
		return nil, errors.Wrap(err, path)
	}
	return sf, nil
}

func (f *File) parse() error {
	headerLen := binary.LittleEndian.Uint64(f.data[:8])
	if headerLen > maxHeaderBytes || headerLen > uint64(len(f.data)-8) {
		return errors.Wrapf(ErrCorruptFile, "header length %d", headerLen)
	}
	f.dataStart = int64(8 + headerLen)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(f.data[8:f.dataStart], &raw); err != nil {
		return errors.Wrap(err, "parse header")
	}
	delete(raw, "__metadata__")

	payload := int64(len(f.data)) - f.dataStart
	f.Tensors = make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return errors.Wrapf(err, "parse tensor %s", name)
		}
		if len(th.DataOffsets) != 2 {
			return errors.Wrapf(ErrCorruptFile, "tensor %s: invalid data_offsets", name)
		}
		info := TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
		if info.Start < 0 || info.End < info.Start || info.End > payload {
			return errors.Wrapf(ErrCorruptFile, "tensor %s: offsets [%d,%d) outside %d payload bytes", name, info.Start, info.End, payload)
		}
		// Unknown dtypes stay listed with KindInvalid; only typed reads fail.
		info.Kind, _ = dtype.ParseKind(th.DType)
		if info.Kind != dtype.KindInvalid && int64(info.Elements()*info.Kind.Size()) != info.End-info.Start {
			return errors.Wrapf(ErrCorruptFile, "tensor %s: %v %s does not fill %d bytes", name, info.Shape, info.DType, info.End-info.Start)
		}
		f.Tensors[name] = info
	}
	return nil
}

// Close releases the mapping. Views obtained from f must not be used
// afterwards.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.mmapped = false
	return err
}

// Mapped reports whether the file is memory mapped.
func (f *File) Mapped() bool { return f.mmapped }

// Info returns the header entry of name.
func (f *File) Info(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Raw returns the bytes of tensor name.
func (f *File) Raw(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, errors.Wrap(ErrNotFound, name)
	}
	return f.data[f.dataStart+t.Start : f.dataStart+t.End], t, nil
}

// View returns tensor name as a 2-D view of T; 1-D tensors become a single
// row. The stored dtype must match T. When the bytes are suitably aligned
// the view aliases the file; otherwise it is a decoded copy. Aliased views
// over a mapping are read-only.
func View[T dtype.Source](f *File, name string) (tensor.View[T], error) {
	raw, info, err := f.Raw(name)
	if err != nil {
		return tensor.View[T]{}, err
	}
	if want := dtype.KindOf[T](); info.Kind != want {
		return tensor.View[T]{}, errors.Errorf("safetensors: tensor %s is %s, want %s", name, info.DType, want)
	}
	var rows, cols int
	switch len(info.Shape) {
	case 1:
		rows, cols = 1, info.Shape[0]
	case 2:
		rows, cols = info.Shape[0], info.Shape[1]
	default:
		return tensor.View[T]{}, errors.Errorf("safetensors: tensor %s has shape %v, want 1-D or 2-D", name, info.Shape)
	}
	n := rows * cols
	if n == 0 {
		return tensor.New[T](rows, cols), nil
	}
	size := info.Kind.Size()
	var data []T
	if nativeLittleEndian && uintptr(unsafe.Pointer(&raw[0]))%uintptr(size) == 0 {
		data = unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), n)
	} else {
		data = decode[T](raw, n)
	}
	return tensor.FromSlice(data, rows, cols, cols), nil
}

func decode[T dtype.Source](raw []byte, n int) []T {
	out := make([]T, n)
	switch o := any(out).(type) {
	case []float32:
		for i := range o {
			o[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	case []float16.Float16:
		for i := range o {
			o[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:]))
		}
	case []bfloat16.BFloat16:
		for i := range o {
			o[i] = bfloat16.BFloat16(binary.LittleEndian.Uint16(raw[2*i:]))
		}
	}
	return out
}

var nativeLittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()
