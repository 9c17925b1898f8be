package board

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/puneet2715/taskmanager-sub000/domain"
	"github.com/puneet2715/taskmanager-sub000/storage"
)

// pausedStore holds its first FetchTasks call after reading, until released.
type pausedStore struct {
	*memStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *pausedStore) FetchTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	tasks, err := p.memStore.FetchTasks(ctx, projectID)
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.read)
		<-p.release
	}
	return tasks, err
}

func TestSlowListDoesNotPoisonMutations(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	base := &pausedStore{
		memStore: newMemStore(seed("p1", domain.ColumnTodo, "A", "B", "C")...),
		read:     make(chan struct{}),
		release:  make(chan struct{}),
	}
	svc := newTestService(storage.NewCache(base, rc, time.Minute), &recordingEmitter{})
	ctx := context.Background()

	listed := make(chan error, 1)
	go func() {
		_, err := svc.ListTasks(ctx, "p1")
		listed <- err
	}()
	<-base.read

	// commits while the list still holds the pre-move rows
	if _, err := svc.MoveTask(ctx, "p1", "C", MoveTaskInput{Column: domain.ColumnTodo, Rank: intPtr(0)}); err != nil {
		t.Fatalf("move C: %v", err)
	}
	close(base.release)
	if err := <-listed; err != nil {
		t.Fatalf("list: %v", err)
	}

	if _, err := svc.MoveTask(ctx, "p1", "B", MoveTaskInput{Column: domain.ColumnTodo, Rank: intPtr(0)}); err != nil {
		t.Fatalf("move B: %v", err)
	}
	mustValid(t, base.memStore, "p1")

	got, err := svc.ListTasks(ctx, "p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"B", "C", "A"}
	for i, id := range want {
		if got[i].ID != id || got[i].Rank != i {
			t.Fatalf("position %d: want %s, got %+v", i, id, got)
		}
	}
}
