package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mlpcore/internal/config"
	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/kernel"
	"github.com/samcharles93/mlpcore/internal/logger"
	"github.com/samcharles93/mlpcore/internal/mlp"
	"github.com/samcharles93/mlpcore/internal/safetensors"
	"github.com/samcharles93/mlpcore/internal/tensor"
	"github.com/samcharles93/mlpcore/internal/tile"
)

// runtimeEnv is everything a command needs to run a layer.
type runtimeEnv struct {
	cfg      config.Config
	layerCfg mlp.LayerConfig
	features tile.Features
	kern     *kernel.BlockedGemm
	pool     *mlp.Pool
	log      logger.Logger
}

func (e *runtimeEnv) Close() { e.pool.Close() }

// newEnv resolves the configuration and builds the kernel. Every work runs
// on the register-accurate software tile unit; --require-amx additionally
// insists that the host could run the same schedule in hardware.
func newEnv(ctx context.Context, cmd *cli.Command) (*runtimeEnv, error) {
	cfg, err := applyLayerFlags(cmd, configFrom(ctx))
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)

	hw := tile.Detect()
	if *cfg.ISA == config.ISARequireAMX && !hw.SupportsBF16() {
		return nil, errors.Wrapf(kernel.ErrNoTileSupport, "host: %s", hw)
	}
	soft := tile.NewSoft().Features()
	kern, err := kernel.NewBlockedGemm(soft, *cfg.MHint)
	if err != nil {
		return nil, err
	}
	layerCfg, err := cfg.Layer()
	if err != nil {
		return nil, err
	}
	pool := mlp.NewPool(layerCfg.Threads)
	log.Debug("kernel ready", "host", hw.String(), "unit", soft.String(), "m_hint", kern.MHint(), "prefetch_lines", kern.PrefetchLines())
	return &runtimeEnv{
		cfg:      cfg,
		layerCfg: layerCfg,
		features: hw,
		kern:     kern,
		pool:     pool,
		log:      log,
	}, nil
}

// loadedLayer is a layer plus the dense evaluation of the same weights.
type loadedLayer struct {
	layer     *mlp.Layer
	desc      string
	reference func(x tensor.View[dtype.BF16]) tensor.View[float32]
	close     func() error
}

// openLayer builds the layer named by the weight flags.
func (e *runtimeEnv) openLayer() (*loadedLayer, error) {
	if weightsPath == "" {
		w := randomWeights(hidden, inter, seed)
		return buildLayer(e, w, fmt.Sprintf("random %dx%d seed %d", hidden, inter, seed), func() error { return nil })
	}
	f, err := safetensors.Open(weightsPath)
	if err != nil {
		return nil, err
	}
	info, ok := f.Info(prefix + mlp.GateName)
	if !ok {
		_ = f.Close()
		return nil, errors.Errorf("%s: tensor %q not found", weightsPath, prefix+mlp.GateName)
	}
	desc := fmt.Sprintf("%s [%s%s]", weightsPath, prefix, info.DType)
	var l *loadedLayer
	switch info.Kind {
	case dtype.KindF32:
		l, err = loadLayer[float32](e, f, desc)
	case dtype.KindF16:
		l, err = loadLayer[dtype.F16](e, f, desc)
	case dtype.KindBF16:
		l, err = loadLayer[dtype.BF16](e, f, desc)
	default:
		err = errors.Errorf("%s: unsupported dtype %s", weightsPath, info.DType)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

func loadLayer[T dtype.Source](e *runtimeEnv, f *safetensors.File, desc string) (*loadedLayer, error) {
	w, err := mlp.LoadWeights[T](f, prefix)
	if err != nil {
		return nil, err
	}
	return buildLayer(e, w, desc, f.Close)
}

func buildLayer[T dtype.Source](e *runtimeEnv, w mlp.Weights[T], desc string, closeFn func() error) (*loadedLayer, error) {
	layer, err := mlp.NewLayer(e.layerCfg, e.kern, e.pool, w, e.log)
	if err != nil {
		return nil, err
	}
	act := e.layerCfg.Activation
	return &loadedLayer{
		layer: layer,
		desc:  desc,
		reference: func(x tensor.View[dtype.BF16]) tensor.View[float32] {
			return mlp.ReferenceForward(w, x, act)
		},
		close: closeFn,
	}, nil
}

// serveLayer loads without keeping a dense evaluator around.
func (e *runtimeEnv) serveLayer() (*mlp.Layer, func() error, error) {
	if weightsPath == "" {
		l, err := e.openLayer()
		if err != nil {
			return nil, nil, err
		}
		return l.layer, l.close, nil
	}
	f, err := safetensors.Open(weightsPath)
	if err != nil {
		return nil, nil, err
	}
	layer, err := mlp.LoadLayer(e.layerCfg, e.kern, e.pool, f, prefix, e.log)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	e.log.Info("weights mapped", "path", weightsPath, "mmap", f.Mapped(), "tensors", len(f.Tensors))
	return layer, f.Close, nil
}

func randomWeights(hidden, inter int, seed int64) mlp.Weights[float32] {
	w := mlp.Weights[float32]{
		Gate: tensor.New[float32](inter, hidden),
		Up:   tensor.New[float32](inter, hidden),
		Down: tensor.New[float32](hidden, inter),
	}
	tensor.FillRand(w.Gate, seed, 0.5)
	tensor.FillRand(w.Up, seed+1, 0.5)
	tensor.FillRand(w.Down, seed+2, 0.5)
	return w
}

func randomInput(rows, cols int, seed int64) tensor.View[dtype.BF16] {
	x := tensor.New[float32](rows, cols)
	tensor.FillRand(x, seed, 2)
	return tensor.Narrow(x)
}

func printStats(s mlp.Stats) {
	fmt.Printf("Layer:       hidden %d, intermediate %d\n", s.Hidden, s.Intermediate)
	fmt.Printf("Works:       %d gate/up, %d down, %d merges on %d threads\n", s.GateUpWorks, s.DownWorks, s.Merges, s.Threads)
	fmt.Printf("Staging:     %s\n", humanize.Bytes(uint64(s.StagingBytes)))
	fmt.Printf("Accumulate:  %s\n", humanize.Bytes(uint64(s.AccumulatorBytes)))
}
