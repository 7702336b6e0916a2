package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mlpcore/internal/logger"
	"github.com/samcharles93/mlpcore/internal/tensor"
)

func verifyCmd() *cli.Command {
	var (
		rowList string
		relTol  float64
	)

	return &cli.Command{
		Name:  "verify",
		Usage: "Compare the blocked layer against a dense evaluation",
		Flags: withLayerFlags(
			&cli.StringFlag{
				Name:        "rows",
				Aliases:     []string{"m"},
				Usage:       "comma-separated row counts to check",
				Value:       "1,16,31,32,33,255,256,257",
				Destination: &rowList,
			},
			&cli.Float64Flag{
				Name:        "tol",
				Usage:       "tolerance relative to the largest output magnitude",
				Value:       2e-2,
				Destination: &relTol,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			ms, err := parseRows(rowList)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			env, err := newEnv(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer env.Close()
			l, err := env.openLayer()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build layer: %v", err), 1)
			}
			defer func() { _ = l.close() }()

			h, _ := l.layer.Dims()
			failed := 0
			for _, m := range ms {
				if err := ctx.Err(); err != nil {
					return err
				}
				x := randomInput(m, h, seed+int64(m))
				got := tensor.Widen(l.layer.Forward(x))
				want := l.reference(x)
				diff, scale := compare(got, want)
				ok := diff <= relTol*scale+1e-3
				status := "ok"
				if !ok {
					status = "FAIL"
					failed++
				}
				fmt.Printf("m=%-5d max|diff|=%.3g  max|want|=%.3g  %s\n", m, diff, scale, status)
				log.Debug("verified", "rows", m, "diff", diff, "scale", scale, "ok", ok)
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("verify: %d of %d row counts outside tolerance", failed, len(ms)), 1)
			}
			return nil
		},
	}
}

func parseRows(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m, err := strconv.Atoi(part)
		if err != nil || m <= 0 {
			return nil, errors.Errorf("invalid row count %q", part)
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, errors.New("no row counts given")
	}
	return out, nil
}

// compare returns the largest absolute difference and the largest |want|.
func compare(got, want tensor.View[float32]) (diff, scale float64) {
	for i := 0; i < want.Rows; i++ {
		for j := 0; j < want.Cols; j++ {
			g, w := float64(got.At(i, j)), float64(want.At(i, j))
			d := math.Abs(g - w)
			if math.IsNaN(d) {
				d = math.Inf(1)
			}
			diff = max(diff, d)
			scale = max(scale, math.Abs(w))
		}
	}
	return diff, scale
}
