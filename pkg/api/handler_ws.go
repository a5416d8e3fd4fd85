package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// wsHandler handles GET /api/v1/ws: upgrade to WebSocket and hand the
// connection to the broadcaster. Blocks for the connection lifetime.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.broadcaster == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	userID := wsUserID(c)

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks are delegated to the fronting proxy
	})
	if err != nil {
		return err
	}

	s.broadcaster.HandleConnection(c.Request().Context(), userID, conn)
	return nil
}

// wsUserID resolves the connection's user identity. Priority: oauth2-proxy
// headers, then an explicit user_id query param, then a generated id so
// anonymous dashboards still get per-user subscription state.
func wsUserID(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.QueryParam("user_id"); user != "" {
		return user
	}
	return "anon-" + uuid.NewString()
}
