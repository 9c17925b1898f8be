package domain

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Event names broadcast to clients.
const (
	EventTaskCreated    = "taskCreated"
	EventTaskUpdated    = "taskUpdated"
	EventTaskDeleted    = "taskDeleted"
	EventTaskMoved      = "taskMoved"
	EventProjectUpdated = "projectUpdated"
	EventMemberRemoved  = "memberRemoved"

	EventPresenceSync = "presenceSync"
	EventUserJoined   = "userJoined"
	EventUserLeft     = "userLeft"
	EventError        = "error"
	EventPong         = "pong"
)

// ErrUnknownEvent is returned when decoding an event name outside the
// publisher set.
var ErrUnknownEvent = errors.New("unknown event")

// Event is implemented by every payload variant sent over a project channel.
type Event interface {
	EventName() string
}

type TaskCreated struct {
	Task Task `json:"task"`
}

type TaskUpdated struct {
	Task Task `json:"task"`
}

type TaskDeleted struct {
	TaskID    string       `json:"taskId"`
	ProjectID string       `json:"projectId"`
	Column    Column       `json:"column"`
	Changes   []RankChange `json:"changes,omitempty"`
}

type TaskMoved struct {
	Task    Task         `json:"task"`
	From    Position     `json:"from"`
	Changes []RankChange `json:"changes,omitempty"`
}

type ProjectUpdated struct {
	Project Project `json:"project"`
}

type MemberRemoved struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
}

type UserJoined struct {
	User      ActiveUser `json:"user"`
	ProjectID string     `json:"projectId"`
}

type UserLeft struct {
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId"`
}

// PresenceSync is sent once to a connection right after it joins a project.
type PresenceSync struct {
	ProjectID   string       `json:"projectId"`
	ActiveUsers []ActiveUser `json:"activeUsers"`
	Timestamp   int64        `json:"timestamp"`
}

// ErrorNotice is the only error shape clients ever see.
type ErrorNotice struct {
	Message   string `json:"message"`
	ProjectID string `json:"projectId,omitempty"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

func (TaskCreated) EventName() string    { return EventTaskCreated }
func (TaskUpdated) EventName() string    { return EventTaskUpdated }
func (TaskDeleted) EventName() string    { return EventTaskDeleted }
func (TaskMoved) EventName() string      { return EventTaskMoved }
func (ProjectUpdated) EventName() string { return EventProjectUpdated }
func (MemberRemoved) EventName() string  { return EventMemberRemoved }
func (UserJoined) EventName() string     { return EventUserJoined }
func (UserLeft) EventName() string       { return EventUserLeft }
func (PresenceSync) EventName() string   { return EventPresenceSync }
func (ErrorNotice) EventName() string    { return EventError }
func (Pong) EventName() string           { return EventPong }

// Frame is the uniform server-to-client wire shape.
type Frame struct {
	Event string `json:"event"`
	Data  Event  `json:"data"`
}

// EncodeFrame serializes ev into its wire frame.
func EncodeFrame(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	return sonic.Marshal(Frame{Event: ev.EventName(), Data: ev})
}

// IsPublisherEvent reports whether name may be emitted by a change publisher.
func IsPublisherEvent(name string) bool {
	switch name {
	case EventTaskCreated, EventTaskUpdated, EventTaskDeleted, EventTaskMoved, EventProjectUpdated, EventMemberRemoved:
		return true
	}
	return false
}

// DecodeEvent turns a publisher event name and payload into its typed variant.
func DecodeEvent(name string, data []byte) (Event, error) {
	var ev Event
	switch name {
	case EventTaskCreated:
		ev = &TaskCreated{}
	case EventTaskUpdated:
		ev = &TaskUpdated{}
	case EventTaskDeleted:
		ev = &TaskDeleted{}
	case EventTaskMoved:
		ev = &TaskMoved{}
	case EventProjectUpdated:
		ev = &ProjectUpdated{}
	case EventMemberRemoved:
		ev = &MemberRemoved{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: empty payload", name)
	}
	if err := sonic.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch v := ev.(type) {
	case *TaskCreated:
		return *v
	case *TaskUpdated:
		return *v
	case *TaskDeleted:
		return *v
	case *TaskMoved:
		return *v
	case *ProjectUpdated:
		return *v
	case *MemberRemoved:
		return *v
	}
	return ev
}
