package subscription

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/domain"
)

type emitted struct {
	projectID string
	event     domain.Event
}

type fakeEmitter struct {
	mu   sync.Mutex
	got  []emitted
	err  error
	sent chan struct{}
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{sent: make(chan struct{}, 16)}
}

func (f *fakeEmitter) EmitToProject(_ context.Context, projectID string, ev domain.Event) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.got = append(f.got, emitted{projectID: projectID, event: ev})
	select {
	case f.sent <- struct{}{}:
	default:
	}
	return 1, nil
}

func (f *fakeEmitter) all() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.got...)
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ev := domain.MemberRemoved{ProjectID: "p1", UserID: "u9"}
	payload, err := EncodeEnvelope("p1", ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	projectID, got, err := DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if projectID != "p1" || got != ev {
		t.Fatalf("unexpected decode %s %#v", projectID, got)
	}
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing project": `{"event":"taskDeleted","data":{"taskId":"t1"}}`,
		"presence event":  `{"projectId":"p1","event":"userJoined","data":{}}`,
		"no payload":      `{"projectId":"p1","event":"taskDeleted"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := DecodeEnvelope([]byte(payload)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := EncodeEnvelope("p1", domain.Pong{}); !errors.Is(err, domain.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestSubscribeUpdates(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	emitter := newFakeEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SubscribeUpdates(ctx, quietLogger(), rc, "project-events", emitter)
		close(done)
	}()

	pub := NewRedisPublisher(rc, "project-events")
	task := domain.Task{ID: "t1", ProjectID: "p1", Title: "x", Column: domain.ColumnDone, Rank: 0}
	// wait for the subscription to register
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := pub.EmitToProject(context.Background(), "p1", domain.TaskCreated{Task: task})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := rc.Publish(context.Background(), "project-events", "garbage").Err(); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}

	select {
	case <-emitter.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("event not dispatched")
	}
	got := emitter.all()
	if got[0].projectID != "p1" {
		t.Fatalf("unexpected project %s", got[0].projectID)
	}
	created, ok := got[0].event.(domain.TaskCreated)
	if !ok || created.Task.ID != "t1" || created.Task.Column != domain.ColumnDone {
		t.Fatalf("unexpected event %#v", got[0].event)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SubscribeUpdates did not exit")
	}
}
