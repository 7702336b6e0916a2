package api

import (
	"github.com/samcharles93/mlpcore/internal/mlp"
	"github.com/samcharles93/mlpcore/internal/tile"
	"github.com/samcharles93/mlpcore/internal/version"
)

// InfoResponse describes the served layer.
type InfoResponse struct {
	Object     string        `json:"object"`
	Hidden     int           `json:"hidden"`
	Inter      int           `json:"intermediate"`
	Activation string        `json:"activation"`
	MaxRows    int           `json:"max_rows"`
	Features   tile.Features `json:"features"`
	Stats      mlp.Stats     `json:"stats"`
	Version    version.Info  `json:"version"`
}

// ForwardRequest carries activation rows, each hidden wide. Values are
// rounded to bf16 before the layer sees them.
type ForwardRequest struct {
	Input [][]float32 `json:"input"`
}

type ForwardResponse struct {
	ID        string      `json:"id"`
	Object    string      `json:"object"`
	Rows      int         `json:"rows"`
	Cols      int         `json:"cols"`
	Output    [][]float32 `json:"output"`
	ElapsedMS float64     `json:"elapsed_ms"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
