package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/puneet2715/taskmanager-sub000/domain"
)

type backend interface {
	FetchTasks(ctx context.Context, projectID string) ([]domain.Task, error)
	Apply(ctx context.Context, projectID string, m Mutation) error
	FetchProject(ctx context.Context, projectID string) (domain.Project, error)
	SaveProject(ctx context.Context, p domain.Project) error
}

// errStaleFill aborts a cache fill that raced with an eviction.
var errStaleFill = errors.New("cache generation changed")

// Cache wraps a task store with a Redis read-through cache keyed by project.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL disables caching.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// FetchTasks serves the project's tasks from Redis, filling the entry from
// the backing store on a miss. A fill that overlaps an eviction is dropped.
func (c *Cache) FetchTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, projectID); ok {
		return tasks, nil
	}
	gen := c.generation(ctx, projectID)
	tasks, err := c.base.FetchTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.storeTasks(ctx, projectID, gen, tasks)
	return tasks, nil
}

// FetchTasksUncached always reads the backing store. Mutations must build
// on this view, never on a cached one.
func (c *Cache) FetchTasksUncached(ctx context.Context, projectID string) ([]domain.Task, error) {
	return c.base.FetchTasks(ctx, projectID)
}

// Apply writes through to the backing store and drops the cached snapshot.
func (c *Cache) Apply(ctx context.Context, projectID string, m Mutation) error {
	err := c.base.Apply(ctx, projectID, m)
	c.Evict(ctx, projectID)
	return err
}

func (c *Cache) FetchProject(ctx context.Context, projectID string) (domain.Project, error) {
	return c.base.FetchProject(ctx, projectID)
}

func (c *Cache) SaveProject(ctx context.Context, p domain.Project) error {
	return c.base.SaveProject(ctx, p)
}

// Evict removes the cached snapshot of the project and bumps its generation
// so fills started before the eviction are discarded.
func (c *Cache) Evict(ctx context.Context, projectID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, tasksGenerationKey(projectID))
		p.Del(ctx, tasksCacheKey(projectID))
		return nil
	})
}

// generation returns the eviction counter of the project; "" when unset or
// when Redis is unavailable.
func (c *Cache) generation(ctx context.Context, projectID string) string {
	if c.redis == nil || c.ttl == 0 {
		return ""
	}
	gen, err := c.redis.Get(ctx, tasksGenerationKey(projectID)).Result()
	if err != nil {
		return ""
	}
	return gen
}

func (c *Cache) loadTasks(ctx context.Context, projectID string) ([]domain.Task, bool) {
	if c.redis == nil || c.ttl == 0 {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(projectID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// fall back to the backing storage without failing
			_ = c.redis.Del(ctx, tasksCacheKey(projectID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(projectID)).Err()
		return nil, false
	}
	return tasks, true
}

// storeTasks writes the snapshot only while the generation still equals gen.
func (c *Cache) storeTasks(ctx context.Context, projectID, gen string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	genKey := tasksGenerationKey(projectID)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, tasksCacheKey(projectID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func tasksCacheKey(projectID string) string {
	return "board:tasks:" + projectID
}

func tasksGenerationKey(projectID string) string {
	return "board:tasks-gen:" + projectID
}
