package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/janpfeifer/must"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/mlpcore/internal/dtype"
	"github.com/samcharles93/mlpcore/internal/kernel"
	"github.com/samcharles93/mlpcore/internal/mlp"
	"github.com/samcharles93/mlpcore/internal/tensor"
	"github.com/samcharles93/mlpcore/internal/tile"
)

const testHidden, testInter = 32, 48

func newTestServer(t *testing.T) (*echo.Echo, *Server, mlp.Weights[float32]) {
	t.Helper()
	pool := mlp.NewPool(2)
	t.Cleanup(pool.Close)
	w := mlp.Weights[float32]{
		Gate: tensor.New[float32](testInter, testHidden),
		Up:   tensor.New[float32](testInter, testHidden),
		Down: tensor.New[float32](testHidden, testInter),
	}
	tensor.FillRand(w.Gate, 1, 1)
	tensor.FillRand(w.Up, 2, 1)
	tensor.FillRand(w.Down, 3, 1)
	u := tile.NewSoft()
	kern := must.M1(kernel.NewBlockedGemm(u.Features(), kernel.DefaultMHint))
	layer := must.M1(mlp.NewLayer(mlp.LayerConfig{}, kern, pool, w, nil))

	srv := NewServer(layer, u.Features(), nil)
	e := echo.New()
	srv.Register(e)
	return e, srv, w
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestInfo(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestServer(t)
	rec := doJSON(t, e, http.MethodGet, "/v1/info", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var info InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "mlp.info", info.Object)
	require.Equal(t, testHidden, info.Hidden)
	require.Equal(t, testInter, info.Inter)
	require.Equal(t, "silu", info.Activation)
	require.True(t, info.Features.Emulated)
	require.Positive(t, info.Stats.StagingBytes)
	require.NotEmpty(t, info.Version.Version)
}

func TestForwardMatchesLayer(t *testing.T) {
	t.Parallel()
	e, _, w := newTestServer(t)

	x := tensor.New[float32](3, testHidden)
	tensor.FillRand(x, 4, 2)
	rows := make([][]float32, x.Rows)
	for i := range rows {
		rows[i] = x.Row(i)
	}
	body := must.M1(json.Marshal(ForwardRequest{Input: rows}))
	rec := doJSON(t, e, http.MethodPost, "/v1/forward", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	var resp ForwardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "mlp.forward", resp.Object)
	require.Equal(t, 3, resp.Rows)
	require.Equal(t, testHidden, resp.Cols)
	require.Len(t, resp.Output, 3)

	want := mlp.ReferenceForward(w, tensor.Narrow(x), kernel.ActSiLU)
	var scale float32
	for _, v := range want.Data {
		scale = max(scale, v, -v)
	}
	for i := range resp.Output {
		for j, got := range resp.Output[i] {
			require.InDelta(t, want.At(i, j), got, float64(0.02*scale)+1e-3)
			require.Equal(t, got, dtype.Widen(dtype.Narrow(got)), "output must be bf16 valued")
		}
	}
}

func TestForwardEchoesRequestID(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/forward", strings.NewReader(`{"input":[[`+strings.Repeat("0,", testHidden-1)+`0]]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
	require.Contains(t, rec.Body.String(), `"id":"fwd_req-42"`)
}

func TestForwardRejectsBadRequests(t *testing.T) {
	t.Parallel()
	e, srv, _ := newTestServer(t)
	srv.SetMaxRows(2)
	row := "[" + strings.Repeat("1,", testHidden-1) + "1]"

	tests := []struct {
		name, body, want string
	}{
		{name: "malformed", body: `{"input":`, want: "decode body"},
		{name: "unknown field", body: `{"inputs":[]}`, want: "decode body"},
		{name: "empty", body: `{"input":[]}`, want: "at least one row"},
		{name: "short row", body: `{"input":[[1,2,3]]}`, want: "row 0 has 3 values"},
		{name: "too many rows", body: `{"input":[` + row + `,` + row + `,` + row + `]}`, want: "limit is 2"},
	}
	for _, tt := range tests {
		rec := doJSON(t, e, http.MethodPost, "/v1/forward", tt.body)
		require.Equalf(t, http.StatusBadRequest, rec.Code, "%s: %s", tt.name, rec.Body.String())
		var body map[string]ErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "invalid_request_error", body["error"].Type)
		require.Containsf(t, body["error"].Message, tt.want, tt.name)
	}
}
