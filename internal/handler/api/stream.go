package api

import (
	"net/http"

	"CatalystPull/internal/service/realtime"
	xlogger "CatalystPull/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHandler upgrades subscribers onto the change stream. Clients that
// need completeness refetch GET /api/catalysts periodically.
type StreamHandler struct {
	logger *xlogger.Logger
	hub    *realtime.Hub
}

func NewStreamHandler(logger *xlogger.Logger, hub *realtime.Hub) *StreamHandler {
	return &StreamHandler{logger: logger, hub: hub}
}

func (h *StreamHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/catalysts", h.Catalysts)
}

func (h *StreamHandler) Catalysts(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.String("remote", c.RealIP()), xlogger.Error(err))
		return nil
	}
	h.hub.Serve(c.Request().Context(), conn)
	return nil
}
