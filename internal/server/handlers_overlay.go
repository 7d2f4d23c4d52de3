package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/redeemcast/internal/domain"
	apperrors "github.com/pscheid92/redeemcast/internal/errors"
	"github.com/pscheid92/redeemcast/internal/metrics"
)

// Overlay pages only ever send control frames (pongs, close).
const maxOverlayReadBytes = 512

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // OBS browser sources send no useful Origin; the token gates access
	},
}

func (s *Server) registerOverlayRoutes() {
	s.echo.GET("/overlay", s.handleOverlay)
	s.echo.GET("/ws", s.handleWebSocket)
}

func (s *Server) verifyOverlayToken(c echo.Context) (string, error) {
	token := c.QueryParam("token")
	claims, err := s.overlay.Verify(token)
	if err != nil {
		return "", apperrors.UnauthorizedError("invalid overlay token")
	}
	return claims.BroadcasterUserID(), nil
}

func (s *Server) handleOverlay(c echo.Context) error {
	if _, err := s.verifyOverlayToken(c); err != nil {
		return err
	}

	data := map[string]any{
		"WSPath": "/ws?token=" + url.QueryEscape(c.QueryParam("token")),
	}
	return s.renderTemplate(c, "overlay.html", data)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	broadcasterID, err := s.verifyOverlayToken(c)
	if err != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues("unauthorized").Inc()
		return err
	}

	ip := c.RealIP()
	if ok, reason := s.wsLimits.Acquire(ip); !ok {
		metrics.WebSocketConnectionsTotal.WithLabelValues(string(reason)).Inc()
		slog.WarnContext(c.Request().Context(), "Overlay connection rejected", "ip", ip, "reason", reason)
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many connections"})
	}
	defer s.wsLimits.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues("upgrade_failed").Inc()
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil // Upgrade already wrote the HTTP error
	}

	// Register closes conn itself on failure.
	id, err := s.hub.Register(conn)
	if err != nil {
		if !errors.Is(err, domain.ErrTooManyClients) {
			slog.ErrorContext(c.Request().Context(), "Failed to register overlay client", "error", err)
		}
		return nil
	}
	slog.InfoContext(c.Request().Context(), "Overlay connected", "client_id", id, "broadcaster_user_id", broadcasterID)

	// Read pump: needed so pong and close frames are processed. Blocks until
	// the connection dies or the broadcaster closes it.
	conn.SetReadLimit(maxOverlayReadBytes)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.hub.Unregister(id)
	slog.InfoContext(c.Request().Context(), "Overlay disconnected", "client_id", id)
	return nil
}
