package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/gateway"
)

func newUpgrader(cfg Config) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	allowAll := len(cfg.AllowedOrigins) == 0
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		},
	}
}

// serveWS authenticates the handshake and then hands the connection to the
// hub. Authentication failures never reach the hub.
func serveWS(hub *gateway.Hub, auth Authenticator, upgrader *websocket.Upgrader, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := auth.Identify(authorizationFromRequest(c))
		if err != nil {
			logger.WithError(err).WithField("remote", c.RealIP()).Debug("websocket auth rejected")
			return c.String(http.StatusUnauthorized, "unauthorized")
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader has already written an error response
			logger.WithError(err).WithField("user", id.UserID).Warn("websocket upgrade failed")
			return nil
		}

		client := hub.Connect(conn, id)
		client.Run(c.Request().Context())
		return nil
	}
}
