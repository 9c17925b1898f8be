package gateway

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/domain"
	"github.com/puneet2715/taskmanager-sub000/presence"
)

type frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestHub(opts Options) (*Hub, *presence.Tracker) {
	tr := presence.NewTracker()
	return NewHub(tr, NewMemoryDeduper(time.Minute), quietLogger(), opts), tr
}

// drain returns every frame currently queued for c.
func drain(t *testing.T, c *Client) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case payload, ok := <-c.Outbound():
			if !ok {
				return out
			}
			var f frame
			if err := sonic.Unmarshal(payload, &f); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func events(frames []frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func countEvent(frames []frame, name string) int {
	n := 0
	for _, f := range frames {
		if f.Event == name {
			n++
		}
	}
	return n
}

func TestJoinSendsSnapshotWithoutSelf(t *testing.T) {
	hub, _ := newTestHub(Options{})
	ctx := context.Background()

	a := hub.Connect(nil, Identity{UserID: "u1", Email: "u1@example.com"})
	b := hub.Connect(nil, Identity{UserID: "u2", Email: "u2@example.com"})
	if err := hub.Join(ctx, a, "p1"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if err := hub.Join(ctx, b, "p1"); err != nil {
		t.Fatalf("join b: %v", err)
	}

	got := drain(t, b)
	if len(got) != 1 || got[0].Event != domain.EventPresenceSync {
		t.Fatalf("expected one presenceSync, got %v", events(got))
	}
	users, _ := got[0].Data["activeUsers"].([]any)
	if len(users) != 1 {
		t.Fatalf("expected 1 other user in snapshot, got %v", got[0].Data["activeUsers"])
	}
	if id := users[0].(map[string]any)["userId"]; id != "u1" {
		t.Fatalf("expected u1 in snapshot, got %v", id)
	}

	aFrames := drain(t, a)
	if evs := events(aFrames); len(evs) != 2 || evs[0] != domain.EventPresenceSync || evs[1] != domain.EventUserJoined {
		t.Fatalf("unexpected frames for a: %v", evs)
	}
	if a.State() != StateJoined || b.Project() != "p1" {
		t.Fatalf("unexpected client state %s project %q", a.State(), b.Project())
	}
}

func TestSecondTabDoesNotAnnounceAgain(t *testing.T) {
	hub, tr := newTestHub(Options{})
	ctx := context.Background()

	watcher := hub.Connect(nil, Identity{UserID: "w"})
	tab1 := hub.Connect(nil, Identity{UserID: "u1"})
	tab2 := hub.Connect(nil, Identity{UserID: "u1"})
	for _, c := range []*Client{watcher, tab1, tab2} {
		if err := hub.Join(ctx, c, "p1"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	if n := countEvent(drain(t, watcher), domain.EventUserJoined); n != 1 {
		t.Fatalf("expected a single userJoined, got %d", n)
	}
	if got := tr.GetUserCount("p1"); got != 2 {
		t.Fatalf("expected 2 users, got %d", got)
	}

	if err := hub.Leave(ctx, tab1, "p1"); err != nil {
		t.Fatalf("leave tab1: %v", err)
	}
	if n := countEvent(drain(t, watcher), domain.EventUserLeft); n != 0 {
		t.Fatalf("userLeft sent while a tab remains")
	}
	hub.Disconnect(tab2)
	if n := countEvent(drain(t, watcher), domain.EventUserLeft); n != 1 {
		t.Fatalf("expected userLeft after last tab, got %d", n)
	}
	if users := tr.GetActiveUsers("p1"); len(users) != 1 || users[0] != "w" {
		t.Fatalf("unexpected active users %v", users)
	}
}

func TestDuplicateJoinIsDropped(t *testing.T) {
	hub, _ := newTestHub(Options{})
	ctx := context.Background()
	c := hub.Connect(nil, Identity{UserID: "u1"})

	if err := hub.Join(ctx, c, "p1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := hub.Join(ctx, c, "p1"); !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("expected ErrDuplicateAction, got %v", err)
	}
	if n := countEvent(drain(t, c), domain.EventPresenceSync); n != 1 {
		t.Fatalf("expected one presenceSync, got %d", n)
	}
}

func TestLeaveUnknownMembership(t *testing.T) {
	hub, _ := newTestHub(Options{})
	c := hub.Connect(nil, Identity{UserID: "u1"})
	if err := hub.Leave(context.Background(), c, "p1"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
	if err := hub.Join(context.Background(), c, ""); !errors.Is(err, ErrInvalidProject) {
		t.Fatalf("expected ErrInvalidProject, got %v", err)
	}
}

func TestJoinAnotherProjectLeavesPrevious(t *testing.T) {
	hub, tr := newTestHub(Options{})
	ctx := context.Background()
	watcher := hub.Connect(nil, Identity{UserID: "w"})
	c := hub.Connect(nil, Identity{UserID: "u1"})

	_ = hub.Join(ctx, watcher, "p1")
	_ = hub.Join(ctx, c, "p1")
	drain(t, watcher)

	if err := hub.Join(ctx, c, "p2"); err != nil {
		t.Fatalf("join p2: %v", err)
	}
	if n := countEvent(drain(t, watcher), domain.EventUserLeft); n != 1 {
		t.Fatalf("expected userLeft in p1, got %d", n)
	}
	if hub.ChannelSize("p1") != 1 || hub.ChannelSize("p2") != 1 {
		t.Fatalf("unexpected channel sizes p1=%d p2=%d", hub.ChannelSize("p1"), hub.ChannelSize("p2"))
	}
	if tr.GetUserCount("p2") != 1 || c.Project() != "p2" {
		t.Fatalf("connection not moved to p2")
	}
}

func TestEmitToProjectReachesEveryMember(t *testing.T) {
	hub, _ := newTestHub(Options{})
	ctx := context.Background()
	a := hub.Connect(nil, Identity{UserID: "u1"})
	b := hub.Connect(nil, Identity{UserID: "u2"})
	other := hub.Connect(nil, Identity{UserID: "u3"})
	_ = hub.Join(ctx, a, "p1")
	_ = hub.Join(ctx, b, "p1")
	_ = hub.Join(ctx, other, "p2")
	drain(t, a)
	drain(t, b)
	drain(t, other)

	task := domain.Task{ID: "t1", ProjectID: "p1", Title: "write", Column: domain.ColumnTodo}
	n, err := hub.EmitToProject(ctx, "p1", domain.TaskCreated{Task: task})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	for _, c := range []*Client{a, b} {
		got := drain(t, c)
		if len(got) != 1 || got[0].Event != domain.EventTaskCreated {
			t.Fatalf("unexpected frames %v", events(got))
		}
	}
	if got := drain(t, other); len(got) != 0 {
		t.Fatalf("event leaked to another project: %v", events(got))
	}
}

func TestEmitToEmptyProjectIsNoop(t *testing.T) {
	hub, _ := newTestHub(Options{})
	n, err := hub.EmitToProject(context.Background(), "nobody", domain.MemberRemoved{ProjectID: "nobody", UserID: "u1"})
	if err != nil || n != 0 {
		t.Fatalf("expected silent no-op, got n=%d err=%v", n, err)
	}
}

func TestSlowConsumerIsDroppedAlone(t *testing.T) {
	hub, tr := newTestHub(Options{SendBuffer: 2})
	ctx := context.Background()
	slow := hub.Connect(nil, Identity{UserID: "slow"})
	fast := hub.Connect(nil, Identity{UserID: "fast"})

	_ = hub.Join(ctx, slow, "p1")
	if n, _ := hub.EmitToProject(ctx, "p1", domain.ProjectUpdated{Project: domain.Project{ID: "p1"}}); n != 1 {
		t.Fatalf("expected delivery to slow, got %d", n)
	}
	// slow never drains, so userJoined overflows its queue.
	_ = hub.Join(ctx, fast, "p1")

	if slow.State() != StateClosed {
		t.Fatalf("slow consumer not closed, state %s", slow.State())
	}
	if fast.State() != StateJoined {
		t.Fatalf("fast consumer affected, state %s", fast.State())
	}
	if evs := events(drain(t, fast)); len(evs) != 2 || evs[1] != domain.EventUserLeft {
		t.Fatalf("unexpected frames for fast: %v", evs)
	}
	if hub.ChannelSize("p1") != 1 || tr.GetUserCount("p1") != 1 {
		t.Fatalf("channel and presence out of step: channel=%d users=%d", hub.ChannelSize("p1"), tr.GetUserCount("p1"))
	}
}

func TestSweepEvictsStaleConnections(t *testing.T) {
	hub, tr := newTestHub(Options{})
	ctx := context.Background()
	a := hub.Connect(nil, Identity{UserID: "u1"})
	_ = hub.Join(ctx, a, "p1")

	res := hub.Sweep(-time.Second)
	if res.RemovedUsers != 1 || len(res.Evicted) != 1 {
		t.Fatalf("unexpected sweep result %+v", res)
	}
	if a.State() != StateClosed {
		t.Fatalf("stale client still open")
	}
	if hub.ChannelSize("p1") != 0 || tr.GetUserCount("p1") != 0 || hub.ConnectionCount() != 0 {
		t.Fatalf("state left behind after sweep")
	}
	// the client's own read loop exiting afterwards must be harmless
	hub.Disconnect(a)
}

func TestForceRemoveClosesEveryTab(t *testing.T) {
	hub, _ := newTestHub(Options{})
	ctx := context.Background()
	watcher := hub.Connect(nil, Identity{UserID: "w"})
	tab1 := hub.Connect(nil, Identity{UserID: "u1"})
	tab2 := hub.Connect(nil, Identity{UserID: "u1"})
	for _, c := range []*Client{watcher, tab1, tab2} {
		_ = hub.Join(ctx, c, "p1")
	}
	drain(t, watcher)

	if !hub.ForceRemove("p1", "u1") {
		t.Fatalf("expected removal")
	}
	if hub.ForceRemove("p1", "u1") {
		t.Fatalf("second removal should report false")
	}
	if tab1.State() != StateClosed || tab2.State() != StateClosed {
		t.Fatalf("tabs not closed")
	}
	if n := countEvent(drain(t, watcher), domain.EventUserLeft); n != 1 {
		t.Fatalf("expected one userLeft, got %d", n)
	}
	if hub.ChannelSize("p1") != 1 {
		t.Fatalf("unexpected channel size %d", hub.ChannelSize("p1"))
	}
}

func TestChannelsMatchPresence(t *testing.T) {
	hub, tr := newTestHub(Options{})
	ctx := context.Background()
	var clients []*Client
	for i, user := range []string{"u1", "u1", "u2", "u3", "u3", "u3"} {
		c := hub.Connect(nil, Identity{UserID: user})
		project := "p1"
		if i%2 == 1 {
			project = "p2"
		}
		_ = hub.Join(ctx, c, project)
		clients = append(clients, c)
	}
	hub.Disconnect(clients[0])
	_ = hub.Leave(ctx, clients[3], "p2")

	for _, p := range []string{"p1", "p2"} {
		connections := 0
		for _, u := range tr.Snapshot(p) {
			connections += u.ConnectionCount
		}
		if connections != hub.ChannelSize(p) {
			t.Fatalf("project %s: presence connections %d, channel members %d", p, connections, hub.ChannelSize(p))
		}
	}
	stats := hub.Stats()
	if stats.TotalConnections != hub.ChannelSize("p1")+hub.ChannelSize("p2") {
		t.Fatalf("stats out of step: %+v", stats)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	hub, tr := newTestHub(Options{})
	a := hub.Connect(nil, Identity{UserID: "u1"})
	_ = hub.Join(context.Background(), a, "p1")

	hub.Shutdown()
	if a.State() != StateClosed || hub.ConnectionCount() != 0 || tr.GetUserCount("p1") != 0 {
		t.Fatalf("shutdown left state behind")
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("done channel not closed")
	}
}
