// Package board applies task mutations for a project, keeps ranks contiguous
// through the ordering engine, persists the result and publishes the change
// to everyone viewing the project.
package board

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/puneet2715/taskmanager-sub000/domain"
	"github.com/puneet2715/taskmanager-sub000/ordering"
	"github.com/puneet2715/taskmanager-sub000/storage"
)

const maxTitleLength = 200

var (
	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when the task does not exist in the project.
	ErrNotFound = errors.New("task not found")
	// ErrProjectNotFound is returned when the project row does not exist.
	ErrProjectNotFound = errors.New("project not found")
)

// Store persists a project's tasks and its project row. FetchTasks may be
// served from a cache; FetchTasksUncached must reflect every applied
// mutation.
type Store interface {
	FetchTasks(ctx context.Context, projectID string) ([]domain.Task, error)
	FetchTasksUncached(ctx context.Context, projectID string) ([]domain.Task, error)
	Apply(ctx context.Context, projectID string, m storage.Mutation) error
	FetchProject(ctx context.Context, projectID string) (domain.Project, error)
	SaveProject(ctx context.Context, p domain.Project) error
}

// Emitter delivers a change to every connection viewing the project.
type Emitter interface {
	EmitToProject(ctx context.Context, projectID string, ev domain.Event) (int, error)
}

type CreateTaskInput struct {
	Title  string        `json:"title"`
	Notes  string        `json:"notes"`
	Column domain.Column `json:"column"`
	Rank   *int          `json:"rank"`
}

type UpdateTaskInput struct {
	Title *string `json:"title"`
	Notes *string `json:"notes"`
}

type MoveTaskInput struct {
	Column domain.Column `json:"column"`
	Rank   *int          `json:"rank"`
}

type UpdateProjectInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// Service is the reference change publisher. Mutations of one project are
// serialized; different projects proceed in parallel.
type Service struct {
	store   Store
	emitter Emitter
	logger  *log.Logger
	tracer  trace.Tracer
	now     func() time.Time
	locks   *keyedMutex
}

// New creates a Service.
func New(store Store, emitter Emitter, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store:   store,
		emitter: emitter,
		logger:  logger,
		tracer:  otel.Tracer("github.com/puneet2715/taskmanager-sub000/board"),
		now:     time.Now,
		locks:   newKeyedMutex(),
	}
}

// ListTasks returns the project's tasks ordered by column then rank.
func (s *Service) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	tasks, err := s.store.FetchTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := append(make([]domain.Task, 0, len(tasks)), tasks...)
	sortTasks(out)
	return out, nil
}

// CreateTask inserts a task at the requested rank, appending by default.
func (s *Service) CreateTask(ctx context.Context, projectID string, in CreateTaskInput) (task domain.Task, err error) {
	ctx, span := s.startSpan(ctx, "board.create", projectID)
	defer endSpan(span, &err)

	title := strings.TrimSpace(in.Title)
	if title == "" || len(title) > maxTitleLength {
		return domain.Task{}, ErrInvalidInput
	}
	if in.Column == "" {
		in.Column = domain.ColumnTodo
	}
	if !in.Column.Valid() {
		return domain.Task{}, ErrInvalidInput
	}

	unlock := s.locks.Lock(projectID)
	defer unlock()

	tasks, err := s.snapshot(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	if !rankInRange(in.Rank, ordering.NextRankForNewTask(tasks, in.Column)) {
		return domain.Task{}, ErrInvalidInput
	}
	res, err := ordering.Insert(tasks, domain.Task{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     title,
		Notes:     in.Notes,
		Column:    in.Column,
		UpdatedAt: s.now().UTC(),
	}, in.Rank)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.commit(ctx, projectID, res, storage.Mutation{Upserts: []domain.Task{res.Task}, Ranks: res.Changes}); err != nil {
		return domain.Task{}, err
	}

	s.publish(ctx, projectID, domain.TaskCreated{Task: res.Task})
	return res.Task, nil
}

// UpdateTask changes a task's title or notes. Ranks are not affected.
func (s *Service) UpdateTask(ctx context.Context, projectID, taskID string, in UpdateTaskInput) (task domain.Task, err error) {
	ctx, span := s.startSpan(ctx, "board.update", projectID)
	defer endSpan(span, &err)

	if in.Title == nil && in.Notes == nil {
		return domain.Task{}, ErrInvalidInput
	}

	unlock := s.locks.Lock(projectID)
	defer unlock()

	tasks, err := s.snapshot(ctx, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	task, ok := findTask(tasks, taskID)
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" || len(title) > maxTitleLength {
			return domain.Task{}, ErrInvalidInput
		}
		task.Title = title
	}
	if in.Notes != nil {
		task.Notes = *in.Notes
	}
	task.UpdatedAt = s.now().UTC()

	if err := s.store.Apply(ctx, projectID, storage.Mutation{Upserts: []domain.Task{task}}); err != nil {
		return domain.Task{}, err
	}
	s.publish(ctx, projectID, domain.TaskUpdated{Task: task})
	return task, nil
}

// MoveTask relocates a task within or across columns. A move to the task's
// current position changes nothing and publishes nothing.
func (s *Service) MoveTask(ctx context.Context, projectID, taskID string, in MoveTaskInput) (moved domain.TaskMoved, err error) {
	ctx, span := s.startSpan(ctx, "board.move", projectID)
	span.SetAttributes(attribute.String("task.id", taskID))
	defer endSpan(span, &err)

	if !in.Column.Valid() {
		return domain.TaskMoved{}, ErrInvalidInput
	}

	unlock := s.locks.Lock(projectID)
	defer unlock()

	tasks, err := s.snapshot(ctx, projectID)
	if err != nil {
		return domain.TaskMoved{}, err
	}
	current, ok := findTask(tasks, taskID)
	if !ok {
		return domain.TaskMoved{}, ErrNotFound
	}
	maxRank := ordering.NextRankForNewTask(tasks, in.Column)
	if current.Column == in.Column {
		maxRank--
	}
	if !rankInRange(in.Rank, maxRank) {
		return domain.TaskMoved{}, ErrInvalidInput
	}
	res, err := ordering.Move(tasks, taskID, in.Column, in.Rank)
	if err != nil {
		if errors.Is(err, ordering.ErrTaskNotFound) {
			return domain.TaskMoved{}, ErrNotFound
		}
		return domain.TaskMoved{}, err
	}
	moved = domain.TaskMoved{Task: res.Task, From: res.From, Changes: res.Changes}
	if !res.Changed() {
		return moved, nil
	}

	res.Task.UpdatedAt = s.now().UTC()
	moved.Task = res.Task
	if err := s.commit(ctx, projectID, res, storage.Mutation{Upserts: []domain.Task{res.Task}, Ranks: res.Changes}); err != nil {
		return domain.TaskMoved{}, err
	}
	s.publish(ctx, projectID, moved)
	return moved, nil
}

// DeleteTask removes a task and closes the gap it leaves in its column.
func (s *Service) DeleteTask(ctx context.Context, projectID, taskID string) (err error) {
	ctx, span := s.startSpan(ctx, "board.delete", projectID)
	defer endSpan(span, &err)

	unlock := s.locks.Lock(projectID)
	defer unlock()

	tasks, err := s.snapshot(ctx, projectID)
	if err != nil {
		return err
	}
	res, err := ordering.Remove(tasks, taskID)
	if err != nil {
		if errors.Is(err, ordering.ErrTaskNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := s.commit(ctx, projectID, res, storage.Mutation{Ranks: res.Changes, Deletes: []string{taskID}}); err != nil {
		return err
	}
	s.publish(ctx, projectID, domain.TaskDeleted{
		TaskID:    taskID,
		ProjectID: projectID,
		Column:    res.From.Column,
		Changes:   res.Changes,
	})
	return nil
}

// GetProject returns the project row.
func (s *Service) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	p, err := s.store.FetchProject(ctx, projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Project{}, ErrProjectNotFound
	}
	return p, err
}

// UpdateProject renames or re-describes an existing project and publishes
// projectUpdated.
func (s *Service) UpdateProject(ctx context.Context, projectID string, in UpdateProjectInput) (project domain.Project, err error) {
	ctx, span := s.startSpan(ctx, "board.update_project", projectID)
	defer endSpan(span, &err)

	if in.Name == nil && in.Description == nil {
		return domain.Project{}, ErrInvalidInput
	}

	unlock := s.locks.Lock(projectID)
	defer unlock()

	project, err = s.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || len(name) > maxTitleLength {
			return domain.Project{}, ErrInvalidInput
		}
		project.Name = name
	}
	if in.Description != nil {
		project.Description = *in.Description
	}
	project.UpdatedAt = s.now().UTC()

	if err := s.store.SaveProject(ctx, project); err != nil {
		return domain.Project{}, err
	}
	s.publish(ctx, projectID, domain.ProjectUpdated{Project: project})
	return project, nil
}

// snapshot loads the project's tasks from the authoritative store and heals
// rank gaps left by writers outside this service.
func (s *Service) snapshot(ctx context.Context, projectID string) ([]domain.Task, error) {
	tasks, err := s.store.FetchTasksUncached(ctx, projectID)
	if err != nil {
		return nil, err
	}
	verr := ordering.Validate(tasks)
	if verr == nil {
		return tasks, nil
	}
	s.logger.WithError(verr).WithField("project", projectID).Warn("compacting task ranks")
	res := ordering.Compact(tasks)
	if err := s.store.Apply(ctx, projectID, storage.Mutation{Ranks: res.Changes}); err != nil {
		return nil, err
	}
	return res.Tasks, nil
}

func (s *Service) commit(ctx context.Context, projectID string, res ordering.Result, m storage.Mutation) error {
	if err := ordering.Validate(res.Tasks); err != nil {
		return err
	}
	return s.store.Apply(ctx, projectID, m)
}

// publish emits ev. The mutation is already durable, so a delivery failure is
// only logged.
func (s *Service) publish(ctx context.Context, projectID string, ev domain.Event) {
	n, err := s.emitter.EmitToProject(ctx, projectID, ev)
	fields := log.Fields{"project": projectID, "event": ev.EventName(), "delivered": n}
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("publish board change")
		return
	}
	s.logger.WithFields(fields).Debug("board change published")
}

// rankInRange reports whether an optional requested rank lies in [0,limit].
func rankInRange(rank *int, limit int) bool {
	return rank == nil || (*rank >= 0 && *rank <= limit)
}

func findTask(tasks []domain.Task, taskID string) (domain.Task, bool) {
	for _, t := range tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return domain.Task{}, false
}

// sortTasks orders tasks by column display order, then rank.
func sortTasks(tasks []domain.Task) {
	order := make(map[domain.Column]int)
	for i, c := range domain.Columns() {
		order[c] = i
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Column != tasks[j].Column {
			return order[tasks[i].Column] < order[tasks[j].Column]
		}
		return tasks[i].Rank < tasks[j].Rank
	})
}

func (s *Service) startSpan(ctx context.Context, name, projectID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("project.id", projectID)))
}

func endSpan(span trace.Span, err *error) {
	if err != nil && *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
