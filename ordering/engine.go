// Package ordering keeps task ranks contiguous inside each column.
//
// Every function takes a snapshot of one project's tasks and returns a new
// snapshot; the input slice is never modified. Callers must not run two
// operations for the same project concurrently against diverging snapshots.
package ordering

import (
	"errors"
	"fmt"
	"sort"

	"github.com/puneet2715/taskmanager-sub000/domain"
)

// ErrTaskNotFound is returned when the referenced task is not in the snapshot.
var ErrTaskNotFound = errors.New("task not found")

// InvariantViolationError reports a placement outside the column bounds or a
// snapshot whose ranks are not contiguous. It signals a caller bug.
type InvariantViolationError struct {
	Column domain.Column
	Rank   int
	// MaxRank is the highest rank the operation accepts in Column, inclusive.
	MaxRank int
	Reason  string
}

func (e *InvariantViolationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invariant violation in column %q: %s", e.Column, e.Reason)
	}
	return fmt.Sprintf("invariant violation in column %q: rank %d outside [0,%d]", e.Column, e.Rank, e.MaxRank)
}

// Result is the outcome of an ordering operation.
type Result struct {
	Tasks   []domain.Task
	Changes []domain.RankChange
	Task    domain.Task
	From    domain.Position
}

// Changed reports whether the operation rewrote any rank.
func (r Result) Changed() bool { return len(r.Changes) > 0 }

// NextRankForNewTask returns the append position of column.
func NextRankForNewTask(tasks []domain.Task, column domain.Column) int {
	return columnSize(tasks, column)
}

// Move dispatches to MoveWithinColumn or MoveAcrossColumns. A nil rank
// appends to the end of the target column.
func Move(tasks []domain.Task, taskID string, column domain.Column, rank *int) (Result, error) {
	idx := indexOf(tasks, taskID)
	if idx < 0 {
		return Result{}, ErrTaskNotFound
	}
	if tasks[idx].Column == column {
		target := columnSize(tasks, column) - 1
		if rank != nil {
			target = *rank
		}
		return MoveWithinColumn(tasks, taskID, target)
	}
	return MoveAcrossColumns(tasks, taskID, column, rank)
}

// MoveWithinColumn places the task at targetRank inside its current column,
// shifting the tasks in between by one.
func MoveWithinColumn(tasks []domain.Task, taskID string, targetRank int) (Result, error) {
	idx := indexOf(tasks, taskID)
	if idx < 0 {
		return Result{}, ErrTaskNotFound
	}
	moved := tasks[idx]
	from := domain.Position{Column: moved.Column, Rank: moved.Rank}
	size := columnSize(tasks, moved.Column)
	if targetRank < 0 || targetRank >= size {
		return Result{}, &InvariantViolationError{Column: moved.Column, Rank: targetRank, MaxRank: size - 1}
	}

	out := clone(tasks)
	if targetRank == moved.Rank {
		return Result{Tasks: out, Task: moved, From: from}, nil
	}

	var changes []domain.RankChange
	for i := range out {
		t := &out[i]
		if i == idx || t.Column != moved.Column {
			continue
		}
		switch {
		case targetRank < moved.Rank && t.Rank >= targetRank && t.Rank < moved.Rank:
			t.Rank++
		case targetRank > moved.Rank && t.Rank > moved.Rank && t.Rank <= targetRank:
			t.Rank--
		default:
			continue
		}
		changes = append(changes, change(*t))
	}
	out[idx].Rank = targetRank
	changes = append(changes, change(out[idx]))
	sortChanges(changes)
	return Result{Tasks: out, Changes: changes, Task: out[idx], From: from}, nil
}

// MoveAcrossColumns removes the task from its column, closing the gap, and
// inserts it into targetColumn at targetRank (append when nil).
func MoveAcrossColumns(tasks []domain.Task, taskID string, targetColumn domain.Column, targetRank *int) (Result, error) {
	idx := indexOf(tasks, taskID)
	if idx < 0 {
		return Result{}, ErrTaskNotFound
	}
	if !targetColumn.Valid() {
		return Result{}, &InvariantViolationError{Column: targetColumn, Reason: "unknown column"}
	}
	moved := tasks[idx]
	if moved.Column == targetColumn {
		rank := moved.Rank
		if targetRank != nil {
			rank = *targetRank
		}
		return MoveWithinColumn(tasks, taskID, rank)
	}
	from := domain.Position{Column: moved.Column, Rank: moved.Rank}

	size := columnSize(tasks, targetColumn)
	rank := size
	if targetRank != nil {
		rank = *targetRank
	}
	if rank < 0 || rank > size {
		return Result{}, &InvariantViolationError{Column: targetColumn, Rank: rank, MaxRank: size}
	}

	out := clone(tasks)
	var changes []domain.RankChange
	for i := range out {
		t := &out[i]
		if i == idx {
			continue
		}
		switch {
		case t.Column == moved.Column && t.Rank > moved.Rank:
			t.Rank--
		case t.Column == targetColumn && t.Rank >= rank:
			t.Rank++
		default:
			continue
		}
		changes = append(changes, change(*t))
	}
	out[idx].Column = targetColumn
	out[idx].Rank = rank
	changes = append(changes, change(out[idx]))
	sortChanges(changes)
	return Result{Tasks: out, Changes: changes, Task: out[idx], From: from}, nil
}

// Insert adds task to its column at rank (append when nil), shifting the
// tasks at or after that rank.
func Insert(tasks []domain.Task, task domain.Task, rank *int) (Result, error) {
	if !task.Column.Valid() {
		return Result{}, &InvariantViolationError{Column: task.Column, Reason: "unknown column"}
	}
	if indexOf(tasks, task.ID) >= 0 {
		return Result{}, fmt.Errorf("task %s already exists", task.ID)
	}
	size := columnSize(tasks, task.Column)
	target := size
	if rank != nil {
		target = *rank
	}
	if target < 0 || target > size {
		return Result{}, &InvariantViolationError{Column: task.Column, Rank: target, MaxRank: size}
	}

	out := make([]domain.Task, 0, len(tasks)+1)
	var changes []domain.RankChange
	for _, t := range tasks {
		if t.Column == task.Column && t.Rank >= target {
			t.Rank++
			changes = append(changes, change(t))
		}
		out = append(out, t)
	}
	task.Rank = target
	out = append(out, task)
	changes = append(changes, change(task))
	sortChanges(changes)
	return Result{Tasks: out, Changes: changes, Task: task}, nil
}

// Remove deletes the task and closes the gap it leaves. This is a move to a
// column that does not exist on the board.
func Remove(tasks []domain.Task, taskID string) (Result, error) {
	idx := indexOf(tasks, taskID)
	if idx < 0 {
		return Result{}, ErrTaskNotFound
	}
	removed := tasks[idx]
	out := make([]domain.Task, 0, len(tasks)-1)
	var changes []domain.RankChange
	for i, t := range tasks {
		if i == idx {
			continue
		}
		if t.Column == removed.Column && t.Rank > removed.Rank {
			t.Rank--
			changes = append(changes, change(t))
		}
		out = append(out, t)
	}
	sortChanges(changes)
	return Result{
		Tasks:   out,
		Changes: changes,
		Task:    removed,
		From:    domain.Position{Column: removed.Column, Rank: removed.Rank},
	}, nil
}

// Validate checks that every column holds exactly the ranks 0..n-1.
func Validate(tasks []domain.Task) error {
	seen := make(map[domain.Column]map[int]string)
	for _, t := range tasks {
		ranks, ok := seen[t.Column]
		if !ok {
			ranks = make(map[int]string)
			seen[t.Column] = ranks
		}
		if other, dup := ranks[t.Rank]; dup {
			return &InvariantViolationError{Column: t.Column, Rank: t.Rank, Reason: fmt.Sprintf("tasks %s and %s share rank %d", other, t.ID, t.Rank)}
		}
		ranks[t.Rank] = t.ID
	}
	for column, ranks := range seen {
		for r := range ranks {
			if r < 0 || r >= len(ranks) {
				return &InvariantViolationError{Column: column, Rank: r, MaxRank: len(ranks) - 1}
			}
		}
	}
	return nil
}

// Compact rewrites ranks so each column is contiguous again, keeping the
// existing relative order (ties broken by id). It is used to heal snapshots
// loaded from storage that were written outside this package.
func Compact(tasks []domain.Task) Result {
	out := clone(tasks)
	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := out[order[a]], out[order[b]]
		if ta.Column != tb.Column {
			return ta.Column < tb.Column
		}
		if ta.Rank != tb.Rank {
			return ta.Rank < tb.Rank
		}
		return ta.ID < tb.ID
	})
	next := make(map[domain.Column]int)
	var changes []domain.RankChange
	for _, i := range order {
		t := &out[i]
		want := next[t.Column]
		next[t.Column] = want + 1
		if t.Rank != want {
			t.Rank = want
			changes = append(changes, change(*t))
		}
	}
	sortChanges(changes)
	return Result{Tasks: out, Changes: changes}
}

// ColumnTasks returns the tasks of column ordered by rank.
func ColumnTasks(tasks []domain.Task, column domain.Column) []domain.Task {
	out := make([]domain.Task, 0)
	for _, t := range tasks {
		if t.Column == column {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

func columnSize(tasks []domain.Task, column domain.Column) int {
	n := 0
	for _, t := range tasks {
		if t.Column == column {
			n++
		}
	}
	return n
}

func indexOf(tasks []domain.Task, taskID string) int {
	for i := range tasks {
		if tasks[i].ID == taskID {
			return i
		}
	}
	return -1
}

func clone(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	return out
}

func change(t domain.Task) domain.RankChange {
	return domain.RankChange{TaskID: t.ID, Column: t.Column, Rank: t.Rank}
}

func sortChanges(changes []domain.RankChange) {
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Column != changes[j].Column {
			return changes[i].Column < changes[j].Column
		}
		return changes[i].Rank < changes[j].Rank
	})
}
