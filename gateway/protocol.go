package gateway

import (
	"errors"

	"github.com/bytedance/sonic"
)

// Client to server message types.
const (
	MessageJoinProject  = "joinProject"
	MessageLeaveProject = "leaveProject"
	MessagePing         = "ping"
)

const (
	noticeJoinFailed  = "failed to join project"
	noticeLeaveFailed = "failed to leave project"
	noticeBadMessage  = "unsupported message"
	noticeInternal    = "internal error"
)

// inbound is a client to server frame.
type inbound struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId,omitempty"`
}

var errEmptyMessageType = errors.New("missing message type")

func decodeInbound(data []byte) (inbound, error) {
	var msg inbound
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return inbound{}, err
	}
	if msg.Type == "" {
		return inbound{}, errEmptyMessageType
	}
	return msg, nil
}
