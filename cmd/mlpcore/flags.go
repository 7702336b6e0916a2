package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mlpcore/internal/config"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	debug      bool

	weightsPath string
	prefix      string
	hidden      int
	inter       int
	seed        int64

	threads    int
	blkKSize   int
	mBlock     int
	mHint      int
	activation string
	splitK     bool
	requireAMX bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Value:       config.Path(),
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "shorthand for --log-level=debug",
			Destination: &debug,
		},
	}
}

// weightFlags select the layer: a safetensors file, or random weights of
// the given size.
func weightFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "safetensors file holding gate_proj, up_proj and down_proj",
			Destination: &weightsPath,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "tensor name prefix, e.g. model.layers.0.mlp.",
			Destination: &prefix,
		},
		&cli.IntFlag{
			Name:        "hidden",
			Usage:       "hidden size of random weights",
			Value:       1024,
			Destination: &hidden,
		},
		&cli.IntFlag{
			Name:        "inter",
			Usage:       "intermediate size of random weights",
			Value:       2816,
			Destination: &inter,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for random weights and inputs",
			Value:       1,
			Destination: &seed,
		},
	}
}

// layerFlags override the config file's layer settings.
func layerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "works per stage (default GOMAXPROCS)",
			Destination: &threads,
		},
		&cli.IntFlag{
			Name:        "blk-k",
			Usage:       "K cache-block depth",
			Destination: &blkKSize,
		},
		&cli.IntFlag{
			Name:        "m-block",
			Usage:       "activation rows per pass",
			Destination: &mBlock,
		},
		&cli.IntFlag{
			Name:        "m-hint",
			Usage:       "M size the weight prefetch is tuned for (0 disables)",
			Destination: &mHint,
		},
		&cli.StringFlag{
			Name:        "activation",
			Aliases:     []string{"act"},
			Usage:       "gate activation (silu, gelu, gelu_tanh)",
			Destination: &activation,
		},
		&cli.BoolFlag{
			Name:        "split-k",
			Usage:       "split the down projection into two K groups",
			Destination: &splitK,
		},
		&cli.BoolFlag{
			Name:        "require-amx",
			Usage:       "fail unless the CPU reports AMX-BF16",
			Destination: &requireAMX,
		},
	}
}

func withLayerFlags(extra ...cli.Flag) []cli.Flag {
	flags := append(weightFlags(), layerFlags()...)
	return append(flags, extra...)
}
