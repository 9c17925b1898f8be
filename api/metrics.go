package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// requestMetrics collects per-request timings and logs them as one line.
type requestMetrics struct {
	logger        *log.Logger
	route         string
	projectID     string
	start         time.Time
	authDuration  time.Duration
	boardDuration time.Duration
	tasks         int
	errorStage    string
	cause         error
}

func newRequestMetrics(logger *log.Logger, route, projectID string) *requestMetrics {
	return &requestMetrics{logger: logger, route: route, projectID: projectID, start: time.Now()}
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveBoard(d time.Duration) {
	if d > 0 {
		m.boardDuration = d
	}
}

func (m *requestMetrics) SetTasks(n int) {
	if n < 0 {
		n = 0
	}
	m.tasks = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// SetCause records the failure behind an error response.
func (m *requestMetrics) SetCause(err error) {
	m.cause = err
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":    m.route,
		"project":  m.projectID,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.boardDuration > 0 {
		fields["board_ms"] = durationToMillis(m.boardDuration)
	}
	if m.tasks > 0 {
		fields["tasks"] = m.tasks
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err == nil {
		err = m.cause
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("board.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
