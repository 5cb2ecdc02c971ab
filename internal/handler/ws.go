package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/coordinator"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
)

// ConnServer runs one seat channel connection; *coordinator.Hub satisfies it.
type ConnServer interface {
	ServeConn(ctx context.Context, conn coordinator.Conn, userID string)
}

// SeatChannelHandler upgrades GET /v1/buses/:id/ws to a WebSocket and
// hands it to the coordination hub.  The bus is checked before upgrading
// so unknown buses get a plain 404.
type SeatChannelHandler struct {
	Hub      ConnServer
	Catalog  LayoutSource
	Upgrader websocket.Upgrader
}

func NewSeatChannelHandler(hub ConnServer, catalog LayoutSource, allowedOrigins []string) *SeatChannelHandler {
	h := &SeatChannelHandler{Hub: hub, Catalog: catalog}
	h.Upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func (h *SeatChannelHandler) Serve(c echo.Context) error {
	if _, _, err := h.Catalog.Layout(c.Request().Context(), c.Param("id")); err != nil {
		return busError(c, err)
	}
	conn, err := h.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		log.Printf("ws: upgrade: %v", err)
		return nil
	}
	h.Hub.ServeConn(c.Request().Context(), conn, middleware.UserID(c))
	return nil
}

// originChecker allows every origin when the list is empty or contains "*".
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
