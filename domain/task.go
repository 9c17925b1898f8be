package domain

import "time"

// Column is one of the fixed task lifecycle buckets.
type Column string

const (
	ColumnTodo       Column = "todo"
	ColumnInProgress Column = "inprogress"
	ColumnDone       Column = "done"
)

// Columns lists the board columns in display order.
func Columns() []Column {
	return []Column{ColumnTodo, ColumnInProgress, ColumnDone}
}

// Valid reports whether c is one of the known columns.
func (c Column) Valid() bool {
	switch c {
	case ColumnTodo, ColumnInProgress, ColumnDone:
		return true
	}
	return false
}

// Task represents a single board item.
type Task struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Title     string    `json:"title"`
	Notes     string    `json:"notes,omitempty"`
	Column    Column    `json:"column"`
	Rank      int       `json:"rank"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Position locates a task inside a project.
type Position struct {
	Column Column `json:"column"`
	Rank   int    `json:"rank"`
}

// RankChange is a single column/rank rewrite produced by the ordering engine.
type RankChange struct {
	TaskID string `json:"taskId"`
	Column Column `json:"column"`
	Rank   int    `json:"rank"`
}

// Project is the shared container tasks and presence belong to.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}
