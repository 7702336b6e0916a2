package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mlpcore/internal/mlp"
)

func benchCmd() *cli.Command {
	var (
		rows   int
		warmup int
		runs   int
		tune   bool
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Time forward passes of one MLP layer",
		Flags: withLayerFlags(
			&cli.IntFlag{
				Name:        "rows",
				Aliases:     []string{"m"},
				Usage:       "activation rows per forward pass",
				Value:       256,
				Destination: &rows,
			},
			&cli.IntFlag{
				Name:        "warmup",
				Usage:       "untimed passes before measuring",
				Value:       2,
				Destination: &warmup,
			},
			&cli.IntFlag{
				Name:        "runs",
				Usage:       "timed passes",
				Value:       20,
				Destination: &runs,
			},
			&cli.BoolFlag{
				Name:        "tune",
				Usage:       "try other K block depths and K splits first, then bench the fastest",
				Destination: &tune,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if rows <= 0 || runs <= 0 || warmup < 0 {
				return cli.Exit("error: --rows and --runs must be positive", 1)
			}
			env, err := newEnv(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer env.Close()

			if tune {
				if err := tuneLayer(env, rows); err != nil {
					return cli.Exit(fmt.Sprintf("error: tune: %v", err), 1)
				}
			}

			setupStart := time.Now()
			l, err := env.openLayer()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build layer: %v", err), 1)
			}
			defer func() { _ = l.close() }()
			setupDur := time.Since(setupStart)

			h, i := l.layer.Dims()
			x := randomInput(rows, h, seed+100)

			fmt.Println("=== mlpcore bench ===")
			fmt.Printf("Weights:     %s\n", l.desc)
			fmt.Printf("Host:        %s\n", env.features)
			fmt.Printf("GOMAXPROCS:  %d\n", runtime.GOMAXPROCS(0))
			printStats(l.layer.Stats())
			fmt.Printf("Setup:       %s\n", setupDur.Round(time.Millisecond))
			fmt.Printf("Rows:        %d, warmup %d, runs %d\n", rows, warmup, runs)
			fmt.Println()

			for range warmup {
				l.layer.Forward(x)
			}

			bar := progressbar.NewOptions(runs,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("forward"),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("fwd"),
				progressbar.OptionSetTheme(progressbar.ThemeASCII),
				progressbar.OptionClearOnFinish(),
			)
			durations := make([]time.Duration, 0, runs)
			for range runs {
				if err := ctx.Err(); err != nil {
					return err
				}
				start := time.Now()
				l.layer.Forward(x)
				durations = append(durations, time.Since(start))
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			var total time.Duration
			best := durations[0]
			for _, d := range durations {
				total += d
				best = min(best, d)
			}
			mean := total / time.Duration(len(durations))
			flops := 6 * float64(rows) * float64(h) * float64(i)
			fmt.Printf("Mean:        %s\n", mean.Round(time.Microsecond))
			fmt.Printf("Best:        %s\n", best.Round(time.Microsecond))
			fmt.Printf("Throughput:  %sFLOP/s (mean), %s rows/s\n",
				humanize.SIWithDigits(flops/mean.Seconds(), 2, ""),
				humanize.CommafWithDigits(float64(rows)/mean.Seconds(), 1))
			fmt.Printf("Reconfigs:   %s\n", humanize.Comma(int64(l.layer.Stats().Reconfigs)))
			return nil
		},
	}
}

// tuneLayer scores candidate configurations by rows per second over a few
// passes and leaves the fastest in env.
func tuneLayer(env *runtimeEnv, rows int) error {
	var firstErr error
	score := func(cfg mlp.LayerConfig) float64 {
		env.layerCfg = cfg
		l, err := env.openLayer()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return 0
		}
		defer func() { _ = l.close() }()
		h, _ := l.layer.Dims()
		x := randomInput(rows, h, seed+100)
		l.layer.Forward(x)
		const passes = 3
		start := time.Now()
		for range passes {
			l.layer.Forward(x)
		}
		rate := float64(passes*rows) / time.Since(start).Seconds()
		env.log.Info("tune", "blk_k", cfg.BlkKSize, "split_k", cfg.SplitK, "rows_per_s", humanize.CommafWithDigits(rate, 1))
		return rate
	}
	shape := mlp.Shape{M: rows, Hidden: hidden, Inter: inter}
	best := mlp.NewAutotuner().Tune(shape, env.layerCfg, score)
	if firstErr != nil {
		return firstErr
	}
	env.layerCfg = best
	env.log.Info("tuned", "blk_k", best.BlkKSize, "split_k", best.SplitK)
	return nil
}
