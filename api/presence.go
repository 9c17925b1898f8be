package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/domain"
	"github.com/puneet2715/taskmanager-sub000/gateway"
)

type presenceResponse struct {
	ProjectID   string              `json:"projectId"`
	ActiveUsers []domain.ActiveUser `json:"activeUsers"`
	UserCount   int                 `json:"userCount"`
}

type cleanupResponse struct {
	RemovedUsers    int `json:"removedUsers"`
	RemovedProjects int `json:"removedProjects"`
}

type repairResponse struct {
	RepairedUsers    int `json:"repairedUsers"`
	RepairedProjects int `json:"repairedProjects"`
}

type eventRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func getPresence(hub *gateway.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		projectID := c.Param("projectId")
		users := hub.Snapshot(projectID)
		return c.JSON(http.StatusOK, presenceResponse{ProjectID: projectID, ActiveUsers: users, UserCount: len(users)})
	}
}

func getPresenceStats(hub *gateway.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, hub.Stats())
	}
}

// postCleanup runs a stale sweep now. The threshold query parameter
// overrides the configured one.
func postCleanup(hub *gateway.Hub, threshold time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		threshold := threshold
		if raw := c.QueryParam("threshold"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				return c.String(http.StatusBadRequest, "invalid threshold")
			}
			threshold = d
		}
		res := hub.Sweep(threshold)
		logger.WithFields(log.Fields{
			"removed_users":    res.RemovedUsers,
			"removed_projects": res.RemovedProjects,
			"threshold":        threshold.String(),
		}).Info("presence.cleanup")
		return c.JSON(http.StatusOK, cleanupResponse{RemovedUsers: res.RemovedUsers, RemovedProjects: res.RemovedProjects})
	}
}

func postRepair(hub *gateway.Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := hub.Repair()
		logger.WithFields(log.Fields{
			"repaired_users":    res.RepairedUsers,
			"repaired_projects": res.RepairedProjects,
		}).Info("presence.repair")
		return c.JSON(http.StatusOK, repairResponse{RepairedUsers: res.RepairedUsers, RepairedProjects: res.RepairedProjects})
	}
}

func deletePresence(hub *gateway.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !hub.ForceRemove(c.Param("projectId"), c.Param("userId")) {
			return c.String(http.StatusNotFound, "not present")
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// postProjectEvent accepts a change from an out-of-process publisher and
// fans it out to the project channel.
func postProjectEvent(hub *gateway.Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		projectID := c.Param("projectId")
		var req eventRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		ev, err := domain.DecodeEvent(req.Event, req.Data)
		if err != nil {
			logger.WithError(err).WithField("project", projectID).Warn("rejected project event")
			return c.String(http.StatusBadRequest, "invalid event")
		}
		n, err := hub.EmitToProject(c.Request().Context(), projectID, ev)
		if err != nil {
			logger.WithError(err).WithField("project", projectID).Error("emit project event")
			return c.String(http.StatusInternalServerError, "emit failed")
		}
		return c.JSON(http.StatusAccepted, map[string]int{"delivered": n})
	}
}
