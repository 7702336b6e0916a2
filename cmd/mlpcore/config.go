package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mlpcore/internal/config"
	"github.com/samcharles93/mlpcore/internal/logger"
)

type cfgKey struct{}

// setup loads the config file, applies the logging flags and stores both
// in the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return ctx, cli.Exit("error: "+err.Error(), 1)
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = &logLevel
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = &logFormat
	}
	if debug {
		lvl := "debug"
		cfg.LogLevel = &lvl
	}
	log, err := cfg.Logger()
	if err != nil {
		return ctx, cli.Exit("error: "+err.Error(), 1)
	}
	ctx = logger.WithContext(ctx, log)
	return context.WithValue(ctx, cfgKey{}, cfg), nil
}

func configFrom(ctx context.Context) config.Config {
	if cfg, ok := ctx.Value(cfgKey{}).(config.Config); ok {
		return cfg
	}
	return config.Defaults()
}

// applyLayerFlags overrides the config with the layer flags the user set
// on cmd.
func applyLayerFlags(cmd *cli.Command, cfg config.Config) (config.Config, error) {
	if cmd.IsSet("threads") {
		cfg.Threads = &threads
	}
	if cmd.IsSet("blk-k") {
		cfg.BlkKSize = &blkKSize
	}
	if cmd.IsSet("m-block") {
		cfg.MBlock = &mBlock
	}
	if cmd.IsSet("m-hint") {
		cfg.MHint = &mHint
	}
	if cmd.IsSet("activation") {
		cfg.Activation = &activation
	}
	if cmd.IsSet("split-k") {
		cfg.SplitK = &splitK
	}
	if requireAMX {
		isa := config.ISARequireAMX
		cfg.ISA = &isa
	}
	return cfg, cfg.Validate()
}
