package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/board"
	"github.com/puneet2715/taskmanager-sub000/domain"
	"github.com/puneet2715/taskmanager-sub000/gateway"
)

const identityKey = "identity"

// Authenticator resolves the caller from an Authorization header value.
type Authenticator interface {
	Identify(header string) (gateway.Identity, error)
}

// Board applies task mutations and publishes them.
type Board interface {
	ListTasks(ctx context.Context, projectID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, projectID string, in board.CreateTaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, projectID, taskID string, in board.UpdateTaskInput) (domain.Task, error)
	MoveTask(ctx context.Context, projectID, taskID string, in board.MoveTaskInput) (domain.TaskMoved, error)
	DeleteTask(ctx context.Context, projectID, taskID string) error
	GetProject(ctx context.Context, projectID string) (domain.Project, error)
	UpdateProject(ctx context.Context, projectID string, in board.UpdateProjectInput) (domain.Project, error)
}

// Config holds the HTTP surface settings.
type Config struct {
	// AdminToken guards the presence maintenance routes. Empty disables them.
	AdminToken string
	// InternalToken guards the publisher ingress route. Empty disables it.
	InternalToken   string
	StaleThreshold  time.Duration
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, hub *gateway.Hub, b Board, auth Authenticator, cfg Config, logger *log.Logger) {
	requireUser := requireUser(auth)
	requireAdmin := requireToken(cfg.AdminToken)

	e.GET("/healthz", healthz(hub))
	e.GET("/ws", serveWS(hub, auth, newUpgrader(cfg), logger))

	e.GET("/api/projects/:projectId/presence", getPresence(hub), requireUser)
	e.GET("/api/presence/stats", getPresenceStats(hub), requireUser)

	e.POST("/api/admin/presence/cleanup", postCleanup(hub, cfg.StaleThreshold, logger), requireAdmin)
	e.POST("/api/admin/presence/repair", postRepair(hub, logger), requireAdmin)
	e.DELETE("/api/admin/projects/:projectId/presence/:userId", deletePresence(hub), requireAdmin)

	e.POST("/internal/projects/:projectId/events", postProjectEvent(hub, logger), requireToken(cfg.InternalToken))

	e.GET("/api/projects/:projectId", getProject(b, logger), requireUser)
	e.PATCH("/api/projects/:projectId", updateProject(b, logger), requireUser)
	e.GET("/api/projects/:projectId/tasks", listTasks(b, logger), requireUser)
	e.POST("/api/projects/:projectId/tasks", createTask(b, logger), requireUser)
	e.PATCH("/api/projects/:projectId/tasks/:taskId", updateTask(b, logger), requireUser)
	e.POST("/api/projects/:projectId/tasks/:taskId/move", moveTask(b, logger), requireUser)
	e.DELETE("/api/projects/:projectId/tasks/:taskId", deleteTask(b, logger), requireUser)
}

func healthz(hub *gateway.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":      "ok",
			"connections": hub.ConnectionCount(),
		})
	}
}

func requireUser(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := auth.Identify(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return c.String(http.StatusUnauthorized, "unauthorized")
			}
			c.Set(identityKey, id)
			return next(c)
		}
	}
}

func requireToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !sharedTokenMatches(c.Request().Header.Get(echo.HeaderAuthorization), token) {
				return c.String(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}

func identityFrom(c echo.Context) gateway.Identity {
	id, _ := c.Get(identityKey).(gateway.Identity)
	return id
}

// decodeBody reads a JSON request body, rejecting unknown fields.
func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
