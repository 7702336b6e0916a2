// Package api serves an MLP layer over HTTP.
package api

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/logger"
	"github.com/samcharles93/mlpcore/internal/mlp"
	"github.com/samcharles93/mlpcore/internal/tensor"
	"github.com/samcharles93/mlpcore/internal/tile"
	"github.com/samcharles93/mlpcore/internal/version"
)

// DefaultMaxRows bounds the rows of one forward request.
const DefaultMaxRows = 4096

// HeaderRequestID is echoed back on every forward response.
const HeaderRequestID = "X-Request-Id"

// Server exposes one layer. Forward calls are serialised because a Layer
// reuses its buffers.
type Server struct {
	mu       sync.Mutex
	layer    *mlp.Layer
	features tile.Features
	log      logger.Logger
	maxRows  int
	clock    func() time.Time
}

func NewServer(layer *mlp.Layer, features tile.Features, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		layer:    layer,
		features: features,
		log:      log,
		maxRows:  DefaultMaxRows,
		clock:    time.Now,
	}
}

// SetMaxRows changes the per-request row limit.
func (s *Server) SetMaxRows(n int) {
	if n > 0 {
		s.maxRows = n
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/info", s.handleInfo)
	e.POST("/v1/forward", s.handleForward)
}

func (s *Server) handleInfo(c *echo.Context) error {
	hidden, inter := s.layer.Dims()
	s.mu.Lock()
	stats := s.layer.Stats()
	s.mu.Unlock()
	return c.JSON(http.StatusOK, InfoResponse{
		Object:     "mlp.info",
		Hidden:     hidden,
		Inter:      inter,
		Activation: s.layer.Config().Activation.String(),
		MaxRows:    s.maxRows,
		Features:   s.features,
		Stats:      stats,
		Version:    version.Resolve(),
	})
}

func (s *Server) handleForward(c *echo.Context) error {
	id := c.Request().Header.Get(HeaderRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	c.Response().Header().Set(HeaderRequestID, id)

	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, newInvalidRequest("decode body: %v", err))
	}
	x, err := s.input(req)
	if err != nil {
		return writeBadRequest(c, err)
	}

	start := s.clock()
	s.mu.Lock()
	out := tensor.Widen(s.layer.Forward(x))
	s.mu.Unlock()
	elapsed := s.clock().Sub(start)

	s.log.Debug("forward", "id", id, "rows", x.Rows, "elapsed", elapsed)
	rows := make([][]float32, out.Rows)
	for i := range rows {
		rows[i] = out.Row(i)
	}
	return c.JSON(http.StatusOK, ForwardResponse{
		ID:        "fwd_" + id,
		Object:    "mlp.forward",
		Rows:      out.Rows,
		Cols:      out.Cols,
		Output:    rows,
		ElapsedMS: float64(elapsed.Microseconds()) / 1000,
	})
}

// input validates the request shape and narrows it into a bf16 view.
func (s *Server) input(req ForwardRequest) (tensor.View[dtype.BF16], error) {
	hidden, _ := s.layer.Dims()
	switch {
	case len(req.Input) == 0:
		return tensor.View[dtype.BF16]{}, newInvalidRequest("input must hold at least one row")
	case len(req.Input) > s.maxRows:
		return tensor.View[dtype.BF16]{}, newInvalidRequest("input has %d rows, limit is %d", len(req.Input), s.maxRows)
	}
	x := tensor.New[dtype.BF16](len(req.Input), hidden)
	for i, row := range req.Input {
		if len(row) != hidden {
			return tensor.View[dtype.BF16]{}, newInvalidRequest("row %d has %d values, want %d", i, len(row), hidden)
		}
		dtype.NarrowSlice(x.Row(i), row)
	}
	return x, nil
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, errors.Wrap(err, "json")
	}
	return out, nil
}
