// Package events is the publish/subscribe fabric of the control plane.
// System events are matched against agent triggers with per-agent
// debouncing and dispatched through the scheduler's ad-hoc path.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed enumeration of system event types, shared with the
// scheduler's trigger descriptors.
type Kind string

const (
	KindIdeaApproved   Kind = "idea-approved"
	KindGitPush        Kind = "git-push"
	KindFileChanged    Kind = "file-changed"
	KindAgentCompleted Kind = "agent-completed"
	KindRunStarted     Kind = "run-started"
	KindRunFinished    Kind = "run-finished"
	KindSessionKilled  Kind = "session-killed"
	KindRunOutput      Kind = "run-output"
)

// ValidKind reports whether k names a known event kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindIdeaApproved, KindGitPush, KindFileChanged, KindAgentCompleted,
		KindRunStarted, KindRunFinished, KindSessionKilled, KindRunOutput:
		return true
	}
	return false
}

// Event is one typed system event.
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// New builds an Event with the payload marshalled to JSON. A payload
// that cannot be marshalled is recorded as null.
func New(kind Kind, source string, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// RunOutputPayload is the payload of run-output events: one stdout line
// of an in-flight run, keyed by the agent's name.
type RunOutputPayload struct {
	Agent string `json:"agent"`
	RunID string `json:"run_id"`
	Line  string `json:"line"`
	Seq   int64  `json:"seq"`
}
