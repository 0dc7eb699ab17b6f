package upload

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"rehearse/internal/capture"
	"rehearse/internal/journal"
	"rehearse/internal/logging"
	"rehearse/internal/services"
	"rehearse/internal/services/practice"
)

// API is the subset of the practice client the orchestrator calls.
type API interface {
	CreateRecording(ctx context.Context, sessionID, itemID string, upload practice.Upload) (practice.UploadResponse, error)
	ReplaceRecording(ctx context.Context, sessionID, itemID string, upload practice.Upload) (practice.UploadResponse, error)
	Session(ctx context.Context, sessionID string) (practice.Session, error)
	ItemByIndex(ctx context.Context, sessionID string, index int) (practice.Item, error)
	CompleteSession(ctx context.Context, sessionID string) (practice.CompleteResponse, error)
}

// Journal records settled submissions.
type Journal interface {
	RecordSubmission(ctx context.Context, sub journal.Submission) error
}

const msgNotAllSubmitted = "not all items submitted"

// Orchestrator runs submissions one at a time.
type Orchestrator struct {
	api      API
	journal  Journal
	logger   *slog.Logger
	inFlight atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal records every settled submission.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) {
		if j != nil {
			o.journal = j
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New constructs an Orchestrator over api.
func New(api API, opts ...Option) *Orchestrator {
	o := &Orchestrator{api: api, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "upload")
	return o
}

// InFlight reports whether a submission is pending.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

// Submit sends task.Artifact to the server and reconciles state with the
// response. It returns OutcomeIgnored without any network call when another
// submission is pending.
func (o *Orchestrator) Submit(ctx context.Context, task Task, state State) Result {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Debug("submission ignored; another is in flight", logging.String(logging.FieldItemID, task.ItemID))
		return Result{Outcome: OutcomeIgnored, State: state, Recovery: services.RecoveryNone}
	}
	defer o.inFlight.Store(false)

	ctx = services.WithSessionID(ctx, task.SessionID)
	ctx = services.WithItemID(ctx, task.ItemID)
	logger := logging.WithContext(ctx, o.logger)

	res := o.submit(ctx, logger, task, state)
	o.record(ctx, logger, task, res)
	return res
}

func (o *Orchestrator) submit(ctx context.Context, logger *slog.Logger, task Task, state State) Result {
	endpoint := task.Endpoint()
	logger.Info("submitting recording",
		logging.String("endpoint", string(endpoint)),
		logging.Int64("artifact_bytes", task.Artifact.Size),
		logging.String(logging.FieldEventType, "upload_started"),
	)

	upload := uploadFor(task.Artifact)
	var (
		resp practice.UploadResponse
		err  error
	)
	if task.IsReplacement {
		resp, err = o.api.ReplaceRecording(ctx, task.SessionID, task.ItemID, upload)
	} else {
		resp, err = o.api.CreateRecording(ctx, task.SessionID, task.ItemID, upload)
	}
	if err != nil {
		return o.failed(logger, state, false, "upload_failed", err)
	}

	state = reconcile(state, task, resp)
	logger.Info("recording accepted",
		logging.Bool("has_next", resp.HasNext),
		logging.Int("completed_items", state.Session.CompletedItems),
		logging.Int("total_items", state.Session.TotalItems),
		logging.String(logging.FieldEventType, "upload_accepted"),
	)

	if resp.HasNext {
		next, err := o.api.ItemByIndex(ctx, task.SessionID, resp.NextIndex)
		if err != nil {
			return o.failed(logger, state, true, "next_item_failed", err)
		}
		state.Item = next
		state.LocalArtifactURL = ""
		return Result{Outcome: OutcomeAdvanced, State: state, Submitted: true, Recovery: services.RecoveryNone}
	}
	return o.complete(ctx, logger, task.SessionID, state)
}

// complete re-reads the session and completes it only when every item has a
// recording. A precondition failure from the server is retried once after a
// fresh read.
func (o *Orchestrator) complete(ctx context.Context, logger *slog.Logger, sessionID string, state State) Result {
	for attempt := 0; attempt < 2; attempt++ {
		fresh, err := o.api.Session(ctx, sessionID)
		if err != nil {
			return o.failed(logger, state, true, "session_read_failed", err)
		}
		state.Session = applySnapshot(state.Session, fresh)
		if !fresh.AllSubmitted() {
			logger.Info("session not ready for completion",
				logging.Int("completed_items", fresh.CompletedItems),
				logging.Int("total_items", fresh.TotalItems),
				logging.String(logging.FieldEventType, "completion_deferred"),
			)
			return Result{
				Outcome:   OutcomeDeferred,
				State:     state,
				Submitted: true,
				Message:   msgNotAllSubmitted,
				Recovery:  services.RecoveryDeferred,
			}
		}

		resp, err := o.api.CompleteSession(ctx, sessionID)
		if err == nil {
			if resp.Session != nil {
				state.Session = applySnapshot(state.Session, *resp.Session)
			}
			state.Session.IsCompleted = true
			logger.Info("session completed", logging.String(logging.FieldEventType, "session_completed"))
			return Result{
				Outcome:   OutcomeCompleted,
				State:     state,
				Submitted: true,
				Redirect:  resp.Redirect,
				Recovery:  services.RecoveryNone,
			}
		}
		if !errors.Is(err, services.ErrIncomplete) {
			return o.failed(logger, state, true, "completion_failed", err)
		}
		logger.Info("completion precondition failed; re-reading session",
			logging.Int("attempt", attempt+1),
			logging.Error(err),
		)
	}
	return Result{
		Outcome:   OutcomeDeferred,
		State:     state,
		Submitted: true,
		Message:   msgNotAllSubmitted,
		Recovery:  services.RecoveryDeferred,
	}
}

func (o *Orchestrator) failed(logger *slog.Logger, state State, submitted bool, eventType string, err error) Result {
	recovery := services.Classify(err)
	// A follow-up read rejecting its input says nothing about the recording.
	if submitted && recovery == services.RecoveryRetake {
		recovery = services.RecoveryRetry
	}
	logging.WarnWithContext(logger, "submission failed", eventType,
		logging.String("recovery", string(recovery)),
		logging.Bool("submitted", submitted),
		logging.String(logging.FieldErrorHint, MessageFor(recovery, submitted)),
		logging.Error(err),
	)
	return Result{
		Outcome:   OutcomeFailed,
		State:     state,
		Submitted: submitted,
		Message:   MessageFor(recovery, submitted),
		Recovery:  recovery,
		Err:       err,
	}
}

func (o *Orchestrator) record(ctx context.Context, logger *slog.Logger, task Task, res Result) {
	if o.journal == nil {
		return
	}
	sub := journal.Submission{
		SessionID:     task.SessionID,
		ItemID:        task.ItemID,
		Endpoint:      string(task.Endpoint()),
		Replacement:   task.IsReplacement,
		Outcome:       string(res.Outcome),
		Recovery:      string(res.Recovery),
		Message:       res.Message,
		ArtifactBytes: task.Artifact.Size,
	}
	if res.Err != nil && sub.Message == "" {
		sub.Message = res.Err.Error()
	}
	if err := o.journal.RecordSubmission(context.WithoutCancel(ctx), sub); err != nil {
		logger.Warn("journal write failed", logging.Error(err))
	}
}

// MessageFor returns the user-facing message for a failure recovery.
func MessageFor(recovery services.Recovery, submitted bool) string {
	switch recovery {
	case services.RecoveryReauthenticate:
		return "Your sign-in has expired. Redirecting to the login page."
	case services.RecoveryRedirect:
		return "This practice session is no longer available."
	case services.RecoveryRetake:
		return "The recording was rejected. Please record it again."
	case services.RecoveryDeferred:
		return msgNotAllSubmitted
	case services.RecoveryUserAction:
		return "The recording could not be prepared for upload."
	case services.RecoveryNone:
		return ""
	}
	if submitted {
		return "Your recording was saved, but loading the next step failed. Try again."
	}
	return "Upload failed. Check your connection and try again."
}

func uploadFor(a capture.Artifact) practice.Upload {
	name := filepath.Base(a.Path)
	if a.Extension != "" && filepath.Ext(name) == "" {
		name += "." + a.Extension
	}
	return practice.Upload{Path: a.Path, FileName: name, MimeType: a.MimeType}
}
