package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/board"
	"github.com/puneet2715/taskmanager-sub000/domain"
	"github.com/puneet2715/taskmanager-sub000/ordering"
)

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// boardError maps a board failure to a status and a short body. Details stay
// in the log.
func boardError(c echo.Context, m *requestMetrics, err error) error {
	m.SetCause(err)
	var iv *ordering.InvariantViolationError
	switch {
	case errors.Is(err, board.ErrInvalidInput):
		m.SetErrorStage("validate")
		return c.String(http.StatusBadRequest, "invalid request")
	case errors.Is(err, board.ErrNotFound):
		m.SetErrorStage("lookup")
		return c.String(http.StatusNotFound, "task not found")
	case errors.Is(err, board.ErrProjectNotFound):
		m.SetErrorStage("lookup")
		return c.String(http.StatusNotFound, "project not found")
	case errors.As(err, &iv):
		// positions are checked before the engine runs
		m.SetErrorStage("ordering")
		return c.String(http.StatusInternalServerError, "internal error")
	default:
		m.SetErrorStage("board")
		return c.String(http.StatusInternalServerError, "internal error")
	}
}

func listTasks(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m := newRequestMetrics(logger, "list_tasks", c.Param("projectId"))
		defer func() { m.Log(c.Response().Status, err) }()

		start := time.Now()
		tasks, err := b.ListTasks(c.Request().Context(), c.Param("projectId"))
		m.ObserveBoard(time.Since(start))
		if err != nil {
			return boardError(c, m, err)
		}
		m.SetTasks(len(tasks))
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func createTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m := newRequestMetrics(logger, "create_task", c.Param("projectId"))
		defer func() { m.Log(c.Response().Status, err) }()

		var in board.CreateTaskInput
		if derr := decodeBody(c, &in); derr != nil {
			m.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		start := time.Now()
		task, err := b.CreateTask(c.Request().Context(), c.Param("projectId"), in)
		m.ObserveBoard(time.Since(start))
		if err != nil {
			return boardError(c, m, err)
		}
		logger.WithFields(log.Fields{"project": task.ProjectID, "task": task.ID, "user": identityFrom(c).UserID}).Info("task created")
		return c.JSON(http.StatusCreated, task)
	}
}

func updateTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m := newRequestMetrics(logger, "update_task", c.Param("projectId"))
		defer func() { m.Log(c.Response().Status, err) }()

		var in board.UpdateTaskInput
		if derr := decodeBody(c, &in); derr != nil {
			m.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		start := time.Now()
		task, err := b.UpdateTask(c.Request().Context(), c.Param("projectId"), c.Param("taskId"), in)
		m.ObserveBoard(time.Since(start))
		if err != nil {
			return boardError(c, m, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func moveTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m := newRequestMetrics(logger, "move_task", c.Param("projectId"))
		defer func() { m.Log(c.Response().Status, err) }()

		var in board.MoveTaskInput
		if derr := decodeBody(c, &in); derr != nil {
			m.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		start := time.Now()
		moved, err := b.MoveTask(c.Request().Context(), c.Param("projectId"), c.Param("taskId"), in)
		m.ObserveBoard(time.Since(start))
		if err != nil {
			return boardError(c, m, err)
		}
		m.SetTasks(len(moved.Changes))
		return c.JSON(http.StatusOK, moved)
	}
}

func deleteTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m := newRequestMetrics(logger, "delete_task", c.Param("projectId"))
		defer func() { m.Log(c.Response().Status, err) }()

		start := time.Now()
		err = b.DeleteTask(c.Request().Context(), c.Param("projectId"), c.Param("taskId"))
		m.ObserveBoard(time.Since(start))
		if err != nil {
			return boardError(c, m, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
