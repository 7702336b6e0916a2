package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mlpcore/internal/api"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxRows     int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve one MLP layer over HTTP",
		Flags: withLayerFlags(
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "max-rows",
				Usage:       "largest accepted forward request",
				Value:       api.DefaultMaxRows,
				Destination: &maxRows,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := newEnv(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer env.Close()
			if env.cfg.ServerAddress != nil && !cmd.IsSet("addr") {
				addr = *env.cfg.ServerAddress
			}

			layer, closeFn, err := env.serveLayer()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build layer: %v", err), 1)
			}
			defer func() { _ = closeFn() }()

			server := api.NewServer(layer, env.features, env.log)
			server.SetMaxRows(maxRows)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			h, i := layer.Dims()
			env.log.Info("starting server", "address", addr, "hidden", h, "intermediate", i)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return sc.Start(ctx, e)
		},
	}
}
