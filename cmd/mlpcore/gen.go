package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"github.com/x448/float16"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/logger"
	"github.com/samcharles93/mlpcore/internal/mlp"
	"github.com/samcharles93/mlpcore/internal/safetensors"
	"github.com/samcharles93/mlpcore/internal/tensor"
)

func genCmd() *cli.Command {
	var (
		out      string
		dtypeArg string
	)

	return &cli.Command{
		Name:  "gen",
		Usage: "Write random gate/up/down weights to a safetensors file",
		Flags: append(weightFlags(),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path",
				Value:       "mlp.safetensors",
				Destination: &out,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "stored element type (BF16, F16, F32)",
				Value:       "BF16",
				Destination: &dtypeArg,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			kind, err := dtype.ParseKind(dtypeArg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if hidden <= 0 || inter <= 0 {
				return cli.Exit("error: --hidden and --inter must be positive", 1)
			}
			w := randomWeights(hidden, inter, seed)
			named := []struct {
				name string
				v    tensor.View[float32]
			}{
				{prefix + mlp.GateName, w.Gate},
				{prefix + mlp.UpName, w.Up},
				{prefix + mlp.DownName, w.Down},
			}
			tensors := make([]safetensors.Tensor, 0, len(named))
			for _, n := range named {
				tensors = append(tensors, encodeAs(kind, n.name, n.v))
			}
			meta := map[string]string{
				"format": "pt",
				"hidden": fmt.Sprint(hidden),
				"inter":  fmt.Sprint(inter),
				"seed":   fmt.Sprint(seed),
			}
			if err := safetensors.Write(out, tensors, meta); err != nil {
				return cli.Exit(fmt.Sprintf("error: write %s: %v", out, err), 1)
			}
			stat, err := os.Stat(out)
			if err != nil {
				return err
			}
			log.Info("weights written", "path", out, "dtype", kind.String(), "hidden", hidden, "inter", inter, "size", humanize.Bytes(uint64(stat.Size())))
			return nil
		},
	}
}

func encodeAs(kind dtype.Kind, name string, v tensor.View[float32]) safetensors.Tensor {
	switch kind {
	case dtype.KindBF16:
		return safetensors.Encode(name, tensor.Narrow(v))
	case dtype.KindF16:
		h := tensor.New[float16.Float16](v.Rows, v.Cols)
		for i := 0; i < v.Rows; i++ {
			dst := h.Row(i)
			for j, x := range v.Row(i) {
				dst[j] = float16.Fromfloat32(x)
			}
		}
		return safetensors.Encode(name, h)
	default:
		return safetensors.Encode(name, v)
	}
}
