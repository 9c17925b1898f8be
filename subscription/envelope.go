// Package subscription feeds board changes published outside this process
// into the realtime gateway.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/puneet2715/taskmanager-sub000/domain"
)

// Envelope is the wire shape of a published board change.
type Envelope struct {
	ProjectID string          `json:"projectId"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// Emitter delivers an event to every connection enrolled in a project.
type Emitter interface {
	EmitToProject(ctx context.Context, projectID string, ev domain.Event) (int, error)
}

var errMissingProject = errors.New("envelope without projectId")

// DecodeEnvelope parses payload into its project and typed event. Only
// publisher events are accepted.
func DecodeEnvelope(payload []byte) (string, domain.Event, error) {
	var env Envelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ProjectID == "" {
		return "", nil, errMissingProject
	}
	ev, err := domain.DecodeEvent(env.Event, env.Data)
	if err != nil {
		return "", nil, err
	}
	return env.ProjectID, ev, nil
}

// EncodeEnvelope is the inverse of DecodeEnvelope.
func EncodeEnvelope(projectID string, ev domain.Event) ([]byte, error) {
	if !domain.IsPublisherEvent(ev.EventName()) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, ev.EventName())
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(Envelope{ProjectID: projectID, Event: ev.EventName(), Data: data})
}

// Dispatch decodes payload and emits it.
func Dispatch(ctx context.Context, emitter Emitter, payload []byte) (int, error) {
	projectID, ev, err := DecodeEnvelope(payload)
	if err != nil {
		return 0, err
	}
	return emitter.EmitToProject(ctx, projectID, ev)
}
