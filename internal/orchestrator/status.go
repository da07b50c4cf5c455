package orchestrator

import (
	"context"
	"time"
)

// State is the lifecycle state of a topic loop.
type State string

// Topic loop states.
const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateExhausted State = "exhausted"
	StateFatal     State = "fatal"
	StateStopped   State = "stopped"
)

// TopicStatus is a read-only snapshot of one topic.
type TopicStatus struct {
	Topic      string    `json:"topic"`
	State      State     `json:"state"`
	ProtocolID string    `json:"protocol_id,omitempty"`
	Cursor     string    `json:"cursor,omitempty"`
	Pages      int64     `json:"pages"`
	Candidates int64     `json:"candidates"`
	Reseeds    int64     `json:"reseeds"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

type topic struct {
	status TopicStatus
	cancel context.CancelFunc
	done   chan struct{}
}
