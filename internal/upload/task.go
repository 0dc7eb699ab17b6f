package upload

import (
	"rehearse/internal/capture"
	"rehearse/internal/services"
	"rehearse/internal/services/practice"
)

// Outcome describes how a submission settled.
type Outcome string

const (
	// OutcomeIgnored means another submission was already in flight.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeAdvanced means the recording was accepted and the next item loaded.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeCompleted means the session was marked complete.
	OutcomeCompleted Outcome = "completed"
	// OutcomeDeferred means the recording was accepted but the session cannot complete yet.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeFailed means the submission or a follow-up call failed.
	OutcomeFailed Outcome = "failed"
)

// Endpoint names which recording endpoint a task targets.
type Endpoint string

const (
	EndpointCreate  Endpoint = "create"
	EndpointReplace Endpoint = "replace"
)

// Task is a single confirmed submission.
type Task struct {
	SessionID     string
	ItemID        string
	IsReplacement bool
	Artifact      capture.Artifact
}

// NewTask builds a task for item. The replace endpoint is chosen iff the item
// was already complete when the task was created.
func NewTask(sessionID string, item practice.Item, artifact capture.Artifact) Task {
	return Task{
		SessionID:     sessionID,
		ItemID:        item.ID,
		IsReplacement: item.IsCompleted,
		Artifact:      artifact,
	}
}

// Endpoint returns the endpoint this task will call.
func (t Task) Endpoint() Endpoint {
	if t.IsReplacement {
		return EndpointReplace
	}
	return EndpointCreate
}

// State is the caller's local view of the session.
type State struct {
	Session          practice.Session
	Item             practice.Item
	LocalArtifactURL string
}

// Result reports the settled submission.
type Result struct {
	Outcome Outcome
	// State is the reconciled local state. On OutcomeAdvanced it points at the next item.
	State State
	// Submitted reports whether the server accepted the recording, even if a
	// follow-up call failed afterwards.
	Submitted bool
	Redirect  string
	Message   string
	Recovery  services.Recovery
	Err       error
}
