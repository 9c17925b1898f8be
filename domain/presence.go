package domain

import "time"

// ActiveUser is the client-facing view of a presence record.
type ActiveUser struct {
	UserID          string    `json:"userId"`
	Email           string    `json:"email,omitempty"`
	ConnectionCount int       `json:"connectionCount"`
	LastSeenAt      time.Time `json:"lastSeenAt"`
}

// PresenceStats aggregates presence state for operational endpoints.
type PresenceStats struct {
	TotalProjects    int `json:"totalProjects"`
	TotalActiveUsers int `json:"totalActiveUsers"`
	TotalConnections int `json:"totalConnections"`
	StaleConnections int `json:"staleConnections"`
}
