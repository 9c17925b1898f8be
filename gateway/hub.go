// Package gateway terminates realtime client connections, keeps project
// channel membership in lock-step with the presence registry and fans out
// board events to every connection enrolled in a project.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/puneet2715/taskmanager-sub000/domain"
	"github.com/puneet2715/taskmanager-sub000/presence"
)

// Registry is the presence store the hub keeps channels consistent with.
// *presence.Tracker implements it.
type Registry interface {
	AddConnection(connID, userID, email, projectID string) presence.AddResult
	RemoveConnection(connID string) presence.RemoveResult
	Touch(connID string) bool
	GetActiveUsers(projectID string) []string
	GetUserCount(projectID string) int
	Snapshot(projectID string) []domain.ActiveUser
	Stats(threshold time.Duration) domain.PresenceStats
	CleanupStale(threshold time.Duration) presence.CleanupResult
	ValidateAndRepair() presence.RepairResult
	ForceRemove(projectID, userID string) (presence.Eviction, bool)
}

// Options tunes the hub and the connections it serves.
type Options struct {
	SendBuffer     int
	StaleThreshold time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = presence.DefaultStaleThreshold
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4 * 1024
	}
	return o
}

// Identity is the authenticated owner of a connection.
type Identity struct {
	UserID string
	Email  string
}

// Hub owns every live connection and project channel of this process.
type Hub struct {
	registry Registry
	dedup    Deduper
	logger   *log.Logger
	opts     Options
	tracer   trace.Tracer
	now      func() time.Time

	mu       sync.Mutex
	clients  map[string]*Client
	channels map[string]map[string]*Client
}

// NewHub creates a hub over registry. A nil deduper defaults to an
// in-memory one with DefaultDedupWindow.
func NewHub(registry Registry, dedup Deduper, logger *log.Logger, opts Options) *Hub {
	if registry == nil {
		panic("gateway.NewHub: registry is nil")
	}
	if dedup == nil {
		dedup = NewMemoryDeduper(DefaultDedupWindow)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		registry: registry,
		dedup:    dedup,
		logger:   logger,
		opts:     opts.withDefaults(),
		tracer:   otel.Tracer("github.com/puneet2715/taskmanager-sub000/gateway"),
		now:      time.Now,
		clients:  make(map[string]*Client),
		channels: make(map[string]map[string]*Client),
	}
}

// Connect registers an authenticated connection and returns its client.
// conn may be nil for in-process clients that only read their send queue.
func (h *Hub) Connect(conn Conn, id Identity) *Client {
	c := newClient(uuid.NewString(), id, conn, h)
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.WithFields(log.Fields{"conn": c.id, "user": id.UserID}).Debug("connection registered")
	return c
}

// Disconnect removes c from its channel and the registry and closes it.
// Disconnecting an unknown client is a no-op.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		c.close()
		return
	}
	delete(h.clients, c.id)
	var failed []*Client
	if projectID := c.project(); projectID != "" {
		failed = h.leaveLocked(c, projectID)
	}
	h.mu.Unlock()

	c.close()
	h.dropClients(failed)
	h.logger.WithFields(log.Fields{"conn": c.id, "user": c.identity.UserID}).Debug("connection closed")
}

// Join enrols c in projectID's channel, registers its presence, sends it a
// presence snapshot and announces the user to the rest of the channel when
// this is the user's first connection there.
func (h *Hub) Join(ctx context.Context, c *Client, projectID string) (err error) {
	ctx, span := h.tracer.Start(ctx, "gateway.join", trace.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.String("connection.id", c.id),
	))
	defer endSpan(span, &err)

	if projectID == "" {
		return ErrInvalidProject
	}
	if c.isClosed() {
		return ErrClientClosed
	}
	if h.duplicate(ctx, c, "join", projectID) {
		return ErrDuplicateAction
	}

	res, failed, err := h.enrol(c, projectID)
	if err != nil {
		return err
	}

	h.dropClients(failed)
	h.logger.WithFields(log.Fields{
		"conn":        c.id,
		"user":        c.identity.UserID,
		"project":     projectID,
		"first":       res.IsFirstConnection,
		"connections": res.ConnectionCount,
	}).Info("presence.join")
	return nil
}

// enrol moves c into projectID's channel and registry entry, queueing the
// snapshot and join announcement. A registry panic leaves the channel
// untouched.
func (h *Hub) enrol(c *Client, projectID string) (res presence.AddResult, failed []*Client, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return res, nil, ErrUnknownConnection
	}
	if current := c.project(); current != "" && current != projectID {
		failed = h.leaveLocked(c, current)
	}

	res = h.registry.AddConnection(c.id, c.identity.UserID, c.identity.Email, projectID)

	members, ok := h.channels[projectID]
	if !ok {
		members = make(map[string]*Client)
		h.channels[projectID] = members
	}
	members[c.id] = c
	c.setProject(projectID)

	others := make([]domain.ActiveUser, 0)
	var self domain.ActiveUser
	for _, u := range h.registry.Snapshot(projectID) {
		if u.UserID == c.identity.UserID {
			self = u
			continue
		}
		others = append(others, u)
	}
	if !c.send(domain.PresenceSync{ProjectID: projectID, ActiveUsers: others, Timestamp: h.now().UnixMilli()}) {
		failed = append(failed, c)
	}
	if res.IsFirstConnection {
		failed = append(failed, h.broadcastLocked(projectID, domain.UserJoined{User: self, ProjectID: projectID}, c.id)...)
	}
	return res, failed, nil
}

// Leave removes c from projectID's channel and announces the user's
// departure when it was their last connection there.
func (h *Hub) Leave(ctx context.Context, c *Client, projectID string) (err error) {
	ctx, span := h.tracer.Start(ctx, "gateway.leave", trace.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.String("connection.id", c.id),
	))
	defer endSpan(span, &err)

	if projectID == "" {
		return ErrInvalidProject
	}
	if h.duplicate(ctx, c, "leave", projectID) {
		return ErrDuplicateAction
	}

	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok || c.project() != projectID {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	failed := h.leaveLocked(c, projectID)
	h.mu.Unlock()

	h.dropClients(failed)
	return nil
}

func (h *Hub) leaveLocked(c *Client, projectID string) []*Client {
	if members, ok := h.channels[projectID]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.channels, projectID)
		}
	}
	c.setProject("")

	res := h.registry.RemoveConnection(c.id)
	h.logger.WithFields(log.Fields{
		"conn":        c.id,
		"user":        c.identity.UserID,
		"project":     projectID,
		"last":        res.IsLastConnection,
		"connections": res.ConnectionCount,
	}).Info("presence.leave")
	if !res.IsLastConnection {
		return nil
	}
	return h.broadcastLocked(projectID, domain.UserLeft{UserID: c.identity.UserID, ProjectID: projectID}, c.id)
}

// EmitToProject sends ev to every connection enrolled in projectID and
// returns how many connections it was queued for. An empty channel is a
// silent no-op.
func (h *Hub) EmitToProject(ctx context.Context, projectID string, ev domain.Event) (n int, err error) {
	_, span := h.tracer.Start(ctx, "gateway.emit", trace.WithAttributes(
		attribute.String("project.id", projectID),
	))
	defer func() {
		span.SetAttributes(attribute.Int("delivered", n))
		endSpan(span, &err)
	}()

	payload, err := domain.EncodeFrame(ev)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	members := h.channels[projectID]
	var failed []*Client
	for _, c := range members {
		if c.enqueue(payload) {
			n++
		} else {
			failed = append(failed, c)
		}
	}
	h.mu.Unlock()

	h.dropClients(failed)
	h.logger.WithFields(log.Fields{"project": projectID, "event": ev.EventName(), "delivered": n}).Debug("project event emitted")
	return n, nil
}

// broadcastLocked sends ev to the channel except the connection exceptID and
// returns the clients whose queue was full.
func (h *Hub) broadcastLocked(projectID string, ev domain.Event, exceptID string) []*Client {
	members := h.channels[projectID]
	if len(members) == 0 {
		return nil
	}
	payload, err := domain.EncodeFrame(ev)
	if err != nil {
		h.logger.WithError(err).WithField("event", ev.EventName()).Error("encode broadcast")
		return nil
	}
	var failed []*Client
	for id, c := range members {
		if id == exceptID {
			continue
		}
		if !c.enqueue(payload) {
			failed = append(failed, c)
		}
	}
	return failed
}

// Sweep removes presence not seen within threshold, drops the affected
// connections from their channels and announces departed users.
func (h *Hub) Sweep(threshold time.Duration) presence.CleanupResult {
	h.mu.Lock()
	res := h.registry.CleanupStale(threshold)
	closed, failed := h.evictLocked(res.Evicted)
	h.mu.Unlock()

	h.closeEvicted(closed)
	h.dropClients(failed)
	return res
}

// Repair runs the registry's consistency repair and re-aligns channels with it.
func (h *Hub) Repair() presence.RepairResult {
	h.mu.Lock()
	res := h.registry.ValidateAndRepair()
	closed, failed := h.evictLocked(res.Evicted)
	for projectID, members := range h.channels {
		if len(members) == 0 {
			delete(h.channels, projectID)
		}
	}
	h.mu.Unlock()

	h.closeEvicted(closed)
	h.dropClients(failed)
	return res
}

// ForceRemove evicts userID from projectID regardless of how many
// connections they hold. It reports false when the user was not present.
func (h *Hub) ForceRemove(projectID, userID string) bool {
	h.mu.Lock()
	ev, ok := h.registry.ForceRemove(projectID, userID)
	if !ok {
		h.mu.Unlock()
		return false
	}
	closed, failed := h.evictLocked([]presence.Eviction{ev})
	h.mu.Unlock()

	h.closeEvicted(closed)
	h.dropClients(failed)
	h.logger.WithFields(log.Fields{"project": projectID, "user": userID, "connections": len(ev.ConnectionIDs)}).Warn("presence force removed")
	return true
}

func (h *Hub) evictLocked(evs []presence.Eviction) (closed, failed []*Client) {
	for _, ev := range evs {
		for _, connID := range ev.ConnectionIDs {
			c, ok := h.clients[connID]
			if !ok {
				continue
			}
			if members := h.channels[ev.ProjectID]; members != nil {
				delete(members, connID)
				if len(members) == 0 {
					delete(h.channels, ev.ProjectID)
				}
			}
			if c.project() == ev.ProjectID {
				c.setProject("")
			}
			delete(h.clients, connID)
			closed = append(closed, c)
		}
		if ev.UserLeft {
			failed = append(failed, h.broadcastLocked(ev.ProjectID, domain.UserLeft{UserID: ev.UserID, ProjectID: ev.ProjectID}, "")...)
		}
	}
	return closed, failed
}

func (h *Hub) closeEvicted(clients []*Client) {
	for _, c := range clients {
		h.logger.WithFields(log.Fields{"conn": c.id, "user": c.identity.UserID}).Info("connection evicted")
		c.close()
	}
}

// dropClients disconnects clients that could not keep up with their queue.
func (h *Hub) dropClients(clients []*Client) {
	seen := make(map[string]struct{}, len(clients))
	for _, c := range clients {
		if _, dup := seen[c.id]; dup {
			continue
		}
		seen[c.id] = struct{}{}
		if c.isClosed() {
			continue
		}
		err := &TransportError{ConnectionID: c.id, Op: "send", Err: errSendQueueFull}
		h.logger.WithError(err).WithField("user", c.identity.UserID).Warn("dropping slow connection")
		h.Disconnect(c)
	}
}

// Touch refreshes the presence of the connection.
func (h *Hub) Touch(c *Client) bool {
	return h.registry.Touch(c.id)
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.Disconnect(c)
	}
}

// Snapshot returns the presence records of projectID.
func (h *Hub) Snapshot(projectID string) []domain.ActiveUser { return h.registry.Snapshot(projectID) }

// ActiveUsers returns the ids of users present in projectID.
func (h *Hub) ActiveUsers(projectID string) []string { return h.registry.GetActiveUsers(projectID) }

// UserCount returns the number of users present in projectID.
func (h *Hub) UserCount(projectID string) int { return h.registry.GetUserCount(projectID) }

// Stats returns aggregate presence statistics.
func (h *Hub) Stats() domain.PresenceStats { return h.registry.Stats(h.opts.StaleThreshold) }

// ChannelSize returns the number of connections enrolled in projectID.
func (h *Hub) ChannelSize(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[projectID])
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) duplicate(ctx context.Context, c *Client, action, projectID string) bool {
	dup, err := h.dedup.Seen(ctx, dedupKey(c.id, action, projectID, c.identity.UserID))
	if err != nil {
		h.logger.WithError(err).WithField("conn", c.id).Warn("dedup check failed; processing action")
		return false
	}
	if dup {
		h.logger.WithFields(log.Fields{"conn": c.id, "action": action, "project": projectID}).Debug("duplicate action dropped")
	}
	return dup
}

func endSpan(span trace.Span, err *error) {
	if err != nil && *err != nil && !benign(*err) {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
