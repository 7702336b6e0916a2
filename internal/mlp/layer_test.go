package mlp

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/kernel"
	"github.com/samcharles93/mlpcore/internal/safetensors"
	"github.com/samcharles93/mlpcore/internal/tensor"
)

func randWeights(seed int64, hidden, inter int) Weights[float32] {
	return Weights[float32]{
		Gate: randMatrix(seed, inter, hidden),
		Up:   randMatrix(seed+1, inter, hidden),
		Down: randMatrix(seed+2, hidden, inter),
	}
}

// requireForward compares a layer output against the dense evaluation with
// a tolerance relative to the output magnitude: both paths narrow the
// intermediate to bf16, but f32 and f64 sums may round it differently.
func requireForward[T dtype.Source](t *testing.T, l *Layer, w Weights[T], x tensor.View[dtype.BF16], act kernel.ActivationKind) {
	t.Helper()
	got := tensor.Widen(l.Forward(x))
	want := ReferenceForward(w, x, act)
	requireClose(t, got, want, 2e-2*maxAbs(want)+1e-3, "act", act)
}

func TestLayerMatchesReference(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()
	kern := softKernel()

	shapes := [][2]int{{64, 96}, {80, 40}, {32, 16}}
	ms := []int{1, 33, 300}
	if testing.Short() {
		shapes, ms = shapes[:2], []int{1, 33}
	}
	for _, shape := range shapes {
		hidden, inter := shape[0], shape[1]
		w := randWeights(int64(hidden+inter), hidden, inter)
		for _, splitK := range []bool{false, true} {
			for _, threads := range []int{1, 3, 4} {
				name := fmt.Sprintf("h%d_i%d_split%v_t%d", hidden, inter, splitK, threads)
				t.Run(name, func(t *testing.T) {
					cfg := LayerConfig{Threads: threads, BlkKSize: 64, MBlock: 128, SplitK: splitK}
					l, err := NewLayer(cfg, kern, pool, w, nil)
					require.NoError(t, err)
					for _, m := range ms {
						requireForward(t, l, w, randInput(int64(m), m, hidden), kernel.ActSiLU)
					}
				})
			}
		}
	}
}

func TestLayerActivations(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()
	w := randWeights(5, 64, 64)
	x := randInput(6, 20, 64)
	for _, act := range []kernel.ActivationKind{kernel.ActSiLU, kernel.ActGeLU, kernel.ActGeLUTanh} {
		l, err := NewLayer(LayerConfig{Activation: act}, softKernel(), pool, w, nil)
		require.NoError(t, err)
		requireForward(t, l, w, x, act)
	}
}

func TestLayerSourceTypes(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()
	w := randWeights(7, 64, 32)
	x := randInput(8, 9, 64)
	bf := Weights[dtype.BF16]{Gate: tensor.Narrow(w.Gate), Up: tensor.Narrow(w.Up), Down: tensor.Narrow(w.Down)}

	lf := must.M1(NewLayer(LayerConfig{}, softKernel(), pool, w, nil))
	lb := must.M1(NewLayer(LayerConfig{}, softKernel(), pool, bf, nil))
	// Repacking rounds f32 to bf16, so both layers see identical weights.
	require.Equal(t, lf.Forward(x).Data, lb.Forward(x).Data)
}

func TestLayerStats(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()
	w := randWeights(9, 128, 64)
	l, err := NewLayer(LayerConfig{Threads: 4, SplitK: true, BlkKSize: 32}, softKernel(), pool, w, nil)
	require.NoError(t, err)

	s := l.Stats()
	require.Equal(t, 128, s.Hidden)
	require.Equal(t, 64, s.Intermediate)
	require.Equal(t, 4, s.GateUpWorks)
	require.Equal(t, 4, s.DownWorks)
	require.Equal(t, 2, s.Merges)
	require.Equal(t, 2*(2*64*128+128*64), s.StagingBytes)
	require.Zero(t, s.Reconfigs)

	l.Forward(randInput(1, 33, 128))
	// One body and one tail configuration per work per block.
	require.Equal(t, 2*(s.GateUpWorks+s.DownWorks), l.Stats().Reconfigs)
}

func TestLayerRejectsBadInput(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()
	w := randWeights(1, 64, 32)

	bad := w
	bad.Down = randMatrix(1, 32, 32)
	_, err := NewLayer(LayerConfig{}, softKernel(), pool, bad, nil)
	require.ErrorContains(t, err, "down projection")

	_, err = NewLayer(LayerConfig{}, nil, pool, w, nil)
	require.Error(t, err)

	l := must.M1(NewLayer(LayerConfig{}, softKernel(), pool, w, nil))
	require.Panics(t, func() { l.Forward(randInput(1, 2, 32)) })
}

func TestLoadLayerFromSafetensors(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()
	const prefix = "model.layers.3.mlp."
	w := randWeights(21, 64, 48)
	path := filepath.Join(t.TempDir(), "mlp.safetensors")
	require.NoError(t, safetensors.Write(path, []safetensors.Tensor{
		safetensors.Encode(prefix+GateName, tensor.Narrow(w.Gate)),
		safetensors.Encode(prefix+UpName, tensor.Narrow(w.Up)),
		safetensors.Encode(prefix+DownName, tensor.Narrow(w.Down)),
	}, nil))

	f, err := safetensors.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	loaded, err := LoadLayer(LayerConfig{}, softKernel(), pool, f, prefix, nil)
	require.NoError(t, err)
	direct := must.M1(NewLayer(LayerConfig{}, softKernel(), pool, w, nil))
	x := randInput(4, 17, 64)
	require.Equal(t, direct.Forward(x).Data, loaded.Forward(x).Data)

	_, err = LoadLayer(LayerConfig{}, softKernel(), pool, f, "model.layers.4.mlp.", nil)
	require.ErrorContains(t, err, "not found")
}

func BenchmarkLayerForward(b *testing.B) {
	pool := NewPool(0)
	defer pool.Close()
	w := randWeights(1, 256, 512)
	l, err := NewLayer(LayerConfig{}, softKernel(), pool, w, nil)
	if err != nil {
		b.Fatal(err)
	}
	x := randInput(2, 64, 256)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Forward(x)
	}
}
