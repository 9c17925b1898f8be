// Package presence tracks which users are viewing which projects, counting
// every live transport connection so a user with several tabs open is
// announced once and removed once.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/puneet2715/taskmanager-sub000/domain"
)

// Handle is a read-only view of one live connection.
type Handle struct {
	ConnectionID string
	UserID       string
	ProjectID    string
	Email        string
	JoinedAt     time.Time
	LastSeenAt   time.Time
}

type handle struct {
	userID     string
	projectID  string
	email      string
	joinedAt   time.Time
	lastSeenAt time.Time
}

type record struct {
	email       string
	count       int
	firstSeenAt time.Time
	lastSeenAt  time.Time
	conns       map[string]struct{}
}

// AddResult reports the outcome of AddConnection.
type AddResult struct {
	IsFirstConnection bool
	ConnectionCount   int
}

// RemoveResult reports the outcome of RemoveConnection. Found is false when
// the connection was unknown, which is not an error.
type RemoveResult struct {
	UserID           string
	ProjectID        string
	Found            bool
	IsLastConnection bool
	ConnectionCount  int
}

// Eviction describes connections dropped by a sweep, repair or forced
// removal. UserLeft is set when the user's presence record was deleted.
type Eviction struct {
	ProjectID     string
	UserID        string
	ConnectionIDs []string
	UserLeft      bool
}

// CleanupResult is returned by CleanupStale.
type CleanupResult struct {
	RemovedUsers    int
	RemovedProjects int
	Evicted         []Eviction
}

// RepairResult is returned by ValidateAndRepair.
type RepairResult struct {
	RepairedUsers    int
	RepairedProjects int
	Evicted          []Eviction
}

// Tracker is the process-local presence registry. It is safe for concurrent
// use; every method is a single atomic transition.
type Tracker struct {
	mu       sync.Mutex
	projects map[string]map[string]*record
	handles  map[string]*handle
	now      func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		projects: make(map[string]map[string]*record),
		handles:  make(map[string]*handle),
		now:      time.Now,
	}
}

// AddConnection registers connID as a connection of userID to projectID.
// Re-adding a connection already registered for the same project refreshes
// it; a connection registered for another project is moved.
func (t *Tracker) AddConnection(connID, userID, email, projectID string) AddResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if h, ok := t.handles[connID]; ok {
		if h.projectID == projectID && h.userID == userID {
			h.lastSeenAt = now
			rec := t.projects[projectID][userID]
			if rec != nil {
				rec.lastSeenAt = now
				return AddResult{ConnectionCount: rec.count}
			}
		}
		t.removeLocked(connID)
	}

	users, ok := t.projects[projectID]
	if !ok {
		users = make(map[string]*record)
		t.projects[projectID] = users
	}
	t.handles[connID] = &handle{userID: userID, projectID: projectID, email: email, joinedAt: now, lastSeenAt: now}

	rec, ok := users[userID]
	if !ok {
		users[userID] = &record{
			email:       email,
			count:       1,
			firstSeenAt: now,
			lastSeenAt:  now,
			conns:       map[string]struct{}{connID: {}},
		}
		return AddResult{IsFirstConnection: true, ConnectionCount: 1}
	}
	rec.count++
	rec.lastSeenAt = now
	rec.conns[connID] = struct{}{}
	if email != "" {
		rec.email = email
	}
	return AddResult{ConnectionCount: rec.count}
}

// RemoveConnection drops connID. Unknown connections are a no-op.
func (t *Tracker) RemoveConnection(connID string) RemoveResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(connID)
}

func (t *Tracker) removeLocked(connID string) RemoveResult {
	h, ok := t.handles[connID]
	if !ok {
		return RemoveResult{}
	}
	delete(t.handles, connID)
	res := RemoveResult{UserID: h.userID, ProjectID: h.projectID, Found: true}

	users := t.projects[h.projectID]
	rec := users[h.userID]
	if rec == nil {
		return res
	}
	delete(rec.conns, connID)
	rec.count--
	if rec.count > 0 {
		res.ConnectionCount = rec.count
		return res
	}
	delete(users, h.userID)
	if len(users) == 0 {
		delete(t.projects, h.projectID)
	}
	res.IsLastConnection = true
	return res
}

// Touch refreshes the last-seen time of connID and its presence record.
func (t *Tracker) Touch(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[connID]
	if !ok {
		return false
	}
	now := t.now()
	h.lastSeenAt = now
	if rec := t.projects[h.projectID][h.userID]; rec != nil {
		rec.lastSeenAt = now
	}
	return true
}

// Connection returns the handle registered for connID.
func (t *Tracker) Connection(connID string) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[connID]
	if !ok {
		return Handle{}, false
	}
	return Handle{
		ConnectionID: connID,
		UserID:       h.userID,
		ProjectID:    h.projectID,
		Email:        h.email,
		JoinedAt:     h.joinedAt,
		LastSeenAt:   h.lastSeenAt,
	}, true
}

// GetActiveUsers returns the ids of users present in projectID, sorted.
func (t *Tracker) GetActiveUsers(projectID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.projects[projectID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GetUserCount returns the number of distinct users present in projectID.
func (t *Tracker) GetUserCount(projectID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.projects[projectID])
}

// Snapshot returns the presence records of projectID sorted by user id.
func (t *Tracker) Snapshot(projectID string) []domain.ActiveUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.projects[projectID]
	out := make([]domain.ActiveUser, 0, len(users))
	for id, rec := range users {
		out = append(out, domain.ActiveUser{
			UserID:          id,
			Email:           rec.email,
			ConnectionCount: rec.count,
			LastSeenAt:      rec.lastSeenAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Projects returns the ids of projects with at least one present user.
func (t *Tracker) Projects() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.projects))
	for id := range t.projects {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats aggregates the registry. Connections not seen within threshold are
// counted as stale.
func (t *Tracker) Stats(threshold time.Duration) domain.PresenceStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := domain.PresenceStats{
		TotalProjects:    len(t.projects),
		TotalConnections: len(t.handles),
	}
	for _, users := range t.projects {
		stats.TotalActiveUsers += len(users)
	}
	cutoff := t.now().Add(-threshold)
	for _, h := range t.handles {
		if h.lastSeenAt.Before(cutoff) {
			stats.StaleConnections++
		}
	}
	return stats
}

// CleanupStale removes presence records not seen within threshold, whatever
// their connection count, then purges connection handles that are orphaned
// or equally old.
func (t *Tracker) CleanupStale(threshold time.Duration) CleanupResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-threshold)
	var res CleanupResult
	for projectID, users := range t.projects {
		for userID, rec := range users {
			if !rec.lastSeenAt.Before(cutoff) {
				continue
			}
			ev := Eviction{ProjectID: projectID, UserID: userID, UserLeft: true}
			for connID := range rec.conns {
				delete(t.handles, connID)
				ev.ConnectionIDs = append(ev.ConnectionIDs, connID)
			}
			sort.Strings(ev.ConnectionIDs)
			delete(users, userID)
			res.RemovedUsers++
			res.Evicted = append(res.Evicted, ev)
		}
		if len(users) == 0 {
			delete(t.projects, projectID)
			res.RemovedProjects++
		}
	}

	for connID, h := range t.handles {
		rec := t.projects[h.projectID][h.userID]
		if rec != nil && !h.lastSeenAt.Before(cutoff) {
			continue
		}
		r := t.removeLocked(connID)
		ev := Eviction{ProjectID: h.projectID, UserID: h.userID, ConnectionIDs: []string{connID}, UserLeft: r.IsLastConnection}
		if r.IsLastConnection {
			res.RemovedUsers++
			if _, ok := t.projects[h.projectID]; !ok {
				res.RemovedProjects++
			}
		}
		res.Evicted = append(res.Evicted, ev)
	}
	sortEvictions(res.Evicted)
	return res
}

// ValidateAndRepair deletes records whose connection count is not positive
// and project entries left without records.
func (t *Tracker) ValidateAndRepair() RepairResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res RepairResult
	for projectID, users := range t.projects {
		for userID, rec := range users {
			if rec.count > 0 {
				continue
			}
			ev := Eviction{ProjectID: projectID, UserID: userID, UserLeft: true}
			for connID := range rec.conns {
				delete(t.handles, connID)
				ev.ConnectionIDs = append(ev.ConnectionIDs, connID)
			}
			sort.Strings(ev.ConnectionIDs)
			delete(users, userID)
			res.RepairedUsers++
			res.Evicted = append(res.Evicted, ev)
		}
		if len(users) == 0 {
			delete(t.projects, projectID)
			res.RepairedProjects++
		}
	}
	sortEvictions(res.Evicted)
	return res
}

// ForceRemove deletes the presence record of userID in projectID together
// with all of its connection handles.
func (t *Tracker) ForceRemove(projectID, userID string) (Eviction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.projects[projectID]
	rec, ok := users[userID]
	if !ok {
		return Eviction{}, false
	}
	ev := Eviction{ProjectID: projectID, UserID: userID, UserLeft: true}
	for connID := range rec.conns {
		delete(t.handles, connID)
		ev.ConnectionIDs = append(ev.ConnectionIDs, connID)
	}
	for connID, h := range t.handles {
		if h.projectID == projectID && h.userID == userID {
			delete(t.handles, connID)
			ev.ConnectionIDs = append(ev.ConnectionIDs, connID)
		}
	}
	sort.Strings(ev.ConnectionIDs)
	delete(users, userID)
	if len(users) == 0 {
		delete(t.projects, projectID)
	}
	return ev, true
}

func sortEvictions(evs []Eviction) {
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].ProjectID != evs[j].ProjectID {
			return evs[i].ProjectID < evs[j].ProjectID
		}
		return evs[i].UserID < evs[j].UserID
	})
}
