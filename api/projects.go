package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/board"
)

func getProject(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m := newRequestMetrics(logger, "get_project", c.Param("projectId"))
		defer func() { m.Log(c.Response().Status, err) }()

		start := time.Now()
		project, err := b.GetProject(c.Request().Context(), c.Param("projectId"))
		m.ObserveBoard(time.Since(start))
		if err != nil {
			return boardError(c, m, err)
		}
		return c.JSON(http.StatusOK, project)
	}
}

func updateProject(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m := newRequestMetrics(logger, "update_project", c.Param("projectId"))
		defer func() { m.Log(c.Response().Status, err) }()

		var in board.UpdateProjectInput
		if derr := decodeBody(c, &in); derr != nil {
			m.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		start := time.Now()
		project, err := b.UpdateProject(c.Request().Context(), c.Param("projectId"), in)
		m.ObserveBoard(time.Since(start))
		if err != nil {
			return boardError(c, m, err)
		}
		logger.WithFields(log.Fields{"project": project.ID, "user": identityFrom(c).UserID}).Info("project updated")
		return c.JSON(http.StatusOK, project)
	}
}
