package main

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"slices"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mlpcore/internal/simd"
	"github.com/samcharles93/mlpcore/internal/tile"
)

func cpuCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "cpu",
		Usage: "Report tile-matrix and vector support of this host",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			hw := tile.Detect()
			report := struct {
				GOOS       string          `json:"goos"`
				GOARCH     string          `json:"goarch"`
				NumCPU     int             `json:"num_cpu"`
				Host       tile.Features   `json:"host"`
				Soft       tile.Features   `json:"soft_unit"`
				VectorAVX2 bool            `json:"vector_avx2"`
				Vector     map[string]bool `json:"vector"`
			}{
				GOOS:       runtime.GOOS,
				GOARCH:     runtime.GOARCH,
				NumCPU:     runtime.NumCPU(),
				Host:       hw,
				Soft:       tile.NewSoft().Features(),
				VectorAVX2: simd.Features().HasAVX2,
				Vector:     simd.Report(),
			}
			if asJSON {
				b, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(b))
				return nil
			}
			fmt.Printf("Platform:    %s/%s, %d CPUs\n", report.GOOS, report.GOARCH, report.NumCPU)
			fmt.Printf("Host:        %s\n", hw)
			fmt.Printf("AMX-BF16:    %v\n", hw.SupportsBF16())
			fmt.Printf("Vector AVX2: %v\n", report.VectorAVX2)
			for _, name := range slices.Sorted(maps.Keys(report.Vector)) {
				fmt.Printf("  %-10s %v\n", name, report.Vector[name])
			}
			fmt.Printf("Kernel unit: %s\n", report.Soft)
			return nil
		},
	}
}
