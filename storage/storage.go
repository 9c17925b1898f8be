package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/puneet2715/taskmanager-sub000/domain"
)

// ErrNotFound is returned when a task or project row does not exist.
var ErrNotFound = errors.New("not found")

// maxBatchActions is the Table service limit for one transaction.
const maxBatchActions = 100

// Mutation is one atomic change to a project's task partition.
type Mutation struct {
	Upserts []domain.Task
	Ranks   []domain.RankChange
	Deletes []string
}

func (m Mutation) empty() bool {
	return len(m.Upserts) == 0 && len(m.Ranks) == 0 && len(m.Deletes) == 0
}

// Storage persists tasks in an Azure Table, one partition per project.
type Storage struct {
	taskTable    *aztables.Client
	projectTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, projectsTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: svc.NewClient(tasksTable), projectTable: svc.NewClient(projectsTable)}, nil
}

// EnsureTables creates the tables when they are missing.
func (s *Storage) EnsureTables(ctx context.Context) error {
	for _, t := range []*aztables.Client{s.taskTable, s.projectTable} {
		if _, err := t.CreateTable(ctx, nil); err != nil && !hasStatus(err, http.StatusConflict) {
			return err
		}
	}
	return nil
}

type taskEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	Notes     string `json:"Notes"`
	Column    string `json:"Column"`
	Rank      int    `json:"Rank"`
	UpdatedAt int64  `json:"UpdatedAt"`
}

type projectEntity struct {
	aztables.Entity
	Name        string `json:"Name"`
	Description string `json:"Description"`
	UpdatedAt   int64  `json:"UpdatedAt"`
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:        ent.RowKey,
		ProjectID: ent.PartitionKey,
		Title:     ent.Title,
		Notes:     ent.Notes,
		Column:    domain.Column(ent.Column),
		Rank:      ent.Rank,
	}
	if ent.UpdatedAt > 0 {
		t.UpdatedAt = time.UnixMilli(ent.UpdatedAt).UTC()
	}
	return t, nil
}

func encodeTaskEntity(t domain.Task) ([]byte, error) {
	return sonic.Marshal(map[string]any{
		"PartitionKey": t.ProjectID,
		"RowKey":       t.ID,
		"Title":        t.Title,
		"Notes":        t.Notes,
		"Column":       string(t.Column),
		"Rank":         t.Rank,
		"UpdatedAt":    t.UpdatedAt.UnixMilli(),
	})
}

// FetchTasks retrieves all tasks of the project.
func (s *Storage) FetchTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + escapeKey(projectID) + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// Apply writes m to the project partition. Changes are grouped into
// transactions of at most maxBatchActions; each group is atomic.
func (s *Storage) Apply(ctx context.Context, projectID string, m Mutation) error {
	if m.empty() {
		return nil
	}
	actions, err := buildActions(projectID, m)
	if err != nil {
		return err
	}
	for start := 0; start < len(actions); start += maxBatchActions {
		end := start + maxBatchActions
		if end > len(actions) {
			end = len(actions)
		}
		if _, err := s.taskTable.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
			return fmt.Errorf("submit transaction for project %s: %w", projectID, err)
		}
	}
	return nil
}

// buildActions translates m into table actions. A rank change for a task
// that is also upserted is folded into the upsert.
func buildActions(projectID string, m Mutation) ([]aztables.TransactionAction, error) {
	upserted := make(map[string]struct{}, len(m.Upserts))
	actions := make([]aztables.TransactionAction, 0, len(m.Upserts)+len(m.Ranks)+len(m.Deletes))
	for _, t := range m.Upserts {
		if t.ProjectID != projectID {
			return nil, fmt.Errorf("task %s belongs to project %s, not %s", t.ID, t.ProjectID, projectID)
		}
		data, err := encodeTaskEntity(t)
		if err != nil {
			return nil, err
		}
		upserted[t.ID] = struct{}{}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertReplace, Entity: data})
	}
	for _, rc := range m.Ranks {
		if _, ok := upserted[rc.TaskID]; ok {
			continue
		}
		data, err := sonic.Marshal(map[string]any{
			"PartitionKey": projectID,
			"RowKey":       rc.TaskID,
			"Column":       string(rc.Column),
			"Rank":         rc.Rank,
		})
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: data})
	}
	for _, id := range m.Deletes {
		data, err := sonic.Marshal(map[string]any{"PartitionKey": projectID, "RowKey": id})
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: data})
	}
	return actions, nil
}

// FetchProject reads the project row.
func (s *Storage) FetchProject(ctx context.Context, projectID string) (domain.Project, error) {
	resp, err := s.projectTable.GetEntity(ctx, projectID, projectID, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Project{}, ErrNotFound
		}
		return domain.Project{}, err
	}
	return decodeProjectEntity(resp.Value)
}

func decodeProjectEntity(data []byte) (domain.Project, error) {
	var ent projectEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Project{}, err
	}
	p := domain.Project{ID: ent.RowKey, Name: ent.Name, Description: ent.Description}
	if ent.UpdatedAt > 0 {
		p.UpdatedAt = time.UnixMilli(ent.UpdatedAt).UTC()
	}
	return p, nil
}

// SaveProject replaces the project row.
func (s *Storage) SaveProject(ctx context.Context, p domain.Project) error {
	data, err := encodeProjectEntity(p)
	if err != nil {
		return err
	}
	_, err = s.projectTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func encodeProjectEntity(p domain.Project) ([]byte, error) {
	return sonic.Marshal(map[string]any{
		"PartitionKey": p.ID,
		"RowKey":       p.ID,
		"Name":         p.Name,
		"Description":  p.Description,
		"UpdatedAt":    p.UpdatedAt.UnixMilli(),
	})
}

func hasStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

// escapeKey doubles single quotes for use inside an OData string literal.
func escapeKey(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		if k[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, k[i])
	}
	return string(out)
}
