package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalystPull/pkg/http/middleware"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, OKEnvelope("pong")) })
	e.GET("/missing", func(c echo.Context) error { return NotFoundError("catalyst not found") })
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	middleware.SetMetricsRegisterer(prometheus.NewRegistry())
	return NewServer(pingHandler{}, WithHost("127.0.0.1"), WithPort(0), WithMetricsPath(""))
}

func TestServerErrorEnvelope(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"ERR_NOT_FOUND"`)

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "catalyst not found")
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
}

func TestServerStartStop(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://" + s.Addr() + "/ping")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
