package mlp

import (
	"github.com/pkg/errors"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/kernel"
	"github.com/samcharles93/mlpcore/internal/logger"
	"github.com/samcharles93/mlpcore/internal/safetensors"
)

// Tensor names of the projections under a layer prefix such as
// "model.layers.0.mlp.".
const (
	GateName = "gate_proj.weight"
	UpName   = "up_proj.weight"
	DownName = "down_proj.weight"
)

// LoadWeights reads the three projections under prefix as T. The views
// alias the file's mapping and stay valid until it is closed.
func LoadWeights[T dtype.Source](f *safetensors.File, prefix string) (Weights[T], error) {
	var w Weights[T]
	var err error
	if w.Gate, err = safetensors.View[T](f, prefix+GateName); err != nil {
		return w, err
	}
	if w.Up, err = safetensors.View[T](f, prefix+UpName); err != nil {
		return w, err
	}
	if w.Down, err = safetensors.View[T](f, prefix+DownName); err != nil {
		return w, err
	}
	return w, w.validate()
}

// LoadLayer builds a Layer from the projections under prefix, dispatching
// on the element type stored in the file.
func LoadLayer(cfg LayerConfig, kern *kernel.BlockedGemm, pool *Pool, f *safetensors.File, prefix string, log logger.Logger) (*Layer, error) {
	info, ok := f.Info(prefix + GateName)
	if !ok {
		return nil, errors.Errorf("mlp: tensor %q not found", prefix+GateName)
	}
	switch info.Kind {
	case dtype.KindF32:
		return loadLayer[float32](cfg, kern, pool, f, prefix, log)
	case dtype.KindF16:
		return loadLayer[dtype.F16](cfg, kern, pool, f, prefix, log)
	case dtype.KindBF16:
		return loadLayer[dtype.BF16](cfg, kern, pool, f, prefix, log)
	default:
		return nil, errors.Errorf("mlp: tensor %q has unsupported dtype %s", prefix+GateName, info.DType)
	}
}

func loadLayer[T dtype.Source](cfg LayerConfig, kern *kernel.BlockedGemm, pool *Pool, f *safetensors.File, prefix string, log logger.Logger) (*Layer, error) {
	w, err := LoadWeights[T](f, prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", prefix)
	}
	return NewLayer(cfg, kern, pool, w, log)
}
