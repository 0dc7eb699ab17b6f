package practice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"rehearse/internal/capture"
	"rehearse/internal/config"
	"rehearse/internal/guidance"
	"rehearse/internal/logging"
	"rehearse/internal/poller"
	"rehearse/internal/services"
	api "rehearse/internal/services/practice"
	"rehearse/internal/upload"
)

// ErrInputLocked is returned while a previous action is still settling.
var ErrInputLocked = errors.New("input locked while processing")

// ErrNoArtifact is returned by Submit when nothing has been recorded.
var ErrNoArtifact = errors.New("no recording to submit")

const (
	msgStillProcessing = "Your result is still processing. Try again later."
	msgResultFailed    = "The result could not be loaded."
)

// Capture is the recording surface the view drives.
type Capture interface {
	InitializeDevice(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	Retake()
	Teardown()
	Snapshot() capture.Snapshot
	Artifact() (capture.Artifact, bool)
}

// Submitter sends recordings.
type Submitter interface {
	Submit(ctx context.Context, task upload.Task, state upload.State) upload.Result
}

// Poller watches derived artifacts.
type Poller interface {
	Watch(ctx context.Context, target poller.Target) *poller.Task
	Stop()
}

// Indicator exposes the framing guidance.
type Indicator interface {
	Sample() guidance.Sample
}

// Deps are the collaborators of a View.
type Deps struct {
	Capture   Capture
	Submitter Submitter
	Poller    Poller
	Navigator Navigator
	Guidance  Indicator
	Lock      *ProcessingLock
	Logger    *slog.Logger

	LoginPath     string
	HomePath      string
	RedirectDelay time.Duration
}

// DepsFromConfig fills the navigation settings of deps from cfg.
func DepsFromConfig(cfg *config.Config, deps Deps) Deps {
	deps.LoginPath = cfg.Server.LoginPath
	deps.HomePath = cfg.Server.HomePath
	deps.RedirectDelay = cfg.RedirectDelay()
	if deps.Lock == nil {
		deps.Lock = NewProcessingLock(cfg.ProcessingLockTimeout())
	}
	return deps
}

// View is the practice screen for one session.
type View struct {
	deps   Deps
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   upload.State
	result  string
	task    *poller.Task
	settled chan struct{}
	timers  []*time.Timer
	closed  bool
}

// NewView builds a view positioned on item.
func NewView(session api.Session, item api.Item, deps Deps) *View {
	if deps.Lock == nil {
		deps.Lock = NewProcessingLock(time.Second)
	}
	if deps.HomePath == "" {
		deps.HomePath = "/"
	}
	if deps.LoginPath == "" {
		deps.LoginPath = "/login"
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	ctx = services.WithSessionID(ctx, session.ID)
	return &View{
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "practice"),
		ctx:    ctx,
		cancel: cancel,
		state:  upload.State{Session: session, Item: item},
	}
}

// Open acquires the device and starts polling if the item already has a
// recording without a derived result.
func (v *View) Open(ctx context.Context) error {
	err := v.deps.Capture.InitializeDevice(ctx)
	if err != nil {
		v.notify(SeverityError, capture.Describe(err))
	}
	v.mu.Lock()
	state := v.state
	v.mu.Unlock()
	v.deps.Navigator.ShowItem(state.Session, state.Item)
	v.maybePoll(state)
	return err
}

// StartRecording begins a take unless input is locked.
func (v *View) StartRecording(ctx context.Context) error {
	if v.deps.Lock.Locked() {
		return ErrInputLocked
	}
	if err := v.deps.Capture.StartRecording(ctx); err != nil {
		v.notify(SeverityError, capture.Describe(err))
		return err
	}
	if snap := v.deps.Capture.Snapshot(); snap.State == capture.StateError {
		v.notify(SeverityError, snap.Cause)
	}
	return nil
}

// StopRecording finishes the take. Input stays locked until assembly finishes
// or the fallback timeout elapses.
func (v *View) StopRecording(ctx context.Context) error {
	settled := make(chan struct{})
	if _, ok := v.deps.Lock.Acquire(settled); !ok {
		return ErrInputLocked
	}
	defer close(settled)
	if err := v.deps.Capture.StopRecording(ctx); err != nil {
		v.notify(SeverityError, capture.Describe(err))
		return err
	}
	return nil
}

// Retake discards the current take.
func (v *View) Retake() error {
	if v.deps.Lock.Locked() {
		return ErrInputLocked
	}
	v.deps.Capture.Retake()
	return nil
}

// Submit uploads the current artifact and applies the outcome.
func (v *View) Submit(ctx context.Context) (upload.Result, error) {
	artifact, ok := v.deps.Capture.Artifact()
	if !ok {
		return upload.Result{}, ErrNoArtifact
	}
	settled := make(chan struct{})
	if _, ok := v.deps.Lock.Acquire(settled); !ok {
		return upload.Result{}, ErrInputLocked
	}
	defer close(settled)

	v.mu.Lock()
	state := v.state
	v.mu.Unlock()

	task := upload.NewTask(state.Session.ID, state.Item, artifact)
	res := v.deps.Submitter.Submit(ctx, task, state)
	v.dispatch(res)
	return res, nil
}

// State returns the local session state.
func (v *View) State() upload.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// ResultURL returns the derived artifact URL found by polling, if any.
func (v *View) ResultURL() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.result
}

// Polling returns a channel closed once the most recent result poll has
// stopped and its outcome was delivered, or nil when no poll was started.
func (v *View) Polling() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settled
}

// Guidance returns the latest framing sample, or an idle sample when no
// indicator is wired.
func (v *View) Guidance() guidance.Sample {
	if v.deps.Guidance == nil {
		return guidance.Initial(false)
	}
	return v.deps.Guidance.Sample()
}

// Close tears the view down: polling stops, pending redirects are dropped,
// the take is discarded and the device released.
func (v *View) Close() {
	v.close(true)
}

// Release tears the view down like Close but leaves the last recording on
// disk so it can be submitted later.
func (v *View) Release() {
	v.close(false)
}

func (v *View) close(discard bool) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	timers := v.timers
	v.timers = nil
	v.task = nil
	v.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	v.cancel()
	v.deps.Poller.Stop()
	v.deps.Lock.Reset()
	if discard {
		v.deps.Capture.Retake()
	}
	v.deps.Capture.Teardown()
}

func (v *View) dispatch(res upload.Result) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if res.Outcome != upload.OutcomeIgnored {
		v.state = res.State
	}
	// An accepted recording supersedes any result polled for the previous take.
	if res.Submitted {
		v.result = ""
	}
	state := v.state
	v.mu.Unlock()

	switch res.Outcome {
	case upload.OutcomeIgnored:
		return
	case upload.OutcomeAdvanced:
		v.deps.Poller.Stop()
		v.deps.Capture.Retake()
		v.deps.Navigator.ShowItem(state.Session, state.Item)
		v.maybePoll(state)
	case upload.OutcomeCompleted:
		v.deps.Poller.Stop()
		v.deps.Capture.Retake()
		v.deps.Navigator.Completed(state.Session, res.Redirect)
	case upload.OutcomeDeferred:
		v.notify(SeverityWarning, res.Message)
		v.maybePoll(state)
	case upload.OutcomeFailed:
		v.recover(res)
	}
}

func (v *View) recover(res upload.Result) {
	switch res.Recovery {
	case services.RecoveryReauthenticate:
		v.notify(SeverityError, res.Message)
		v.redirectAfterDelay(v.deps.LoginPath)
	case services.RecoveryRedirect:
		v.notify(SeverityError, res.Message)
		v.redirectAfterDelay(v.deps.HomePath)
	case services.RecoveryRetake:
		v.deps.Capture.Retake()
		v.notify(SeverityError, res.Message)
	default:
		// The artifact is kept so the same submission can be retried.
		v.notify(SeverityWarning, res.Message)
	}
}

func (v *View) redirectAfterDelay(path string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	timer := time.AfterFunc(v.deps.RedirectDelay, func() {
		v.mu.Lock()
		alive := !v.closed
		v.mu.Unlock()
		if alive {
			v.deps.Navigator.Redirect(path)
		}
	})
	v.timers = append(v.timers, timer)
}

func (v *View) maybePoll(state upload.State) {
	v.mu.Lock()
	local := v.result
	closed := v.closed
	v.mu.Unlock()
	if closed || !poller.ShouldStart(state.Item, local, state.Session) {
		return
	}

	target := poller.Target{SessionID: state.Session.ID, ItemID: state.Item.ID}
	task := v.deps.Poller.Watch(v.ctx, target)
	if task == nil {
		return
	}
	v.mu.Lock()
	if v.task == task {
		v.mu.Unlock()
		return
	}
	settled := make(chan struct{})
	v.task = task
	v.settled = settled
	v.mu.Unlock()
	go v.awaitPoll(task, settled)
}

func (v *View) awaitPoll(task *poller.Task, settled chan struct{}) {
	defer close(settled)
	<-task.Done()
	final := task.State()

	v.mu.Lock()
	current := v.task == task && !v.closed
	if current {
		v.task = nil
	}
	var item api.Item
	if current && final.Status == poller.StatusReady && v.state.Item.ID == final.Target.ItemID {
		v.result = final.URL
		v.state.Item.ResultURL = final.URL
		item = v.state.Item
	}
	v.mu.Unlock()
	if !current {
		return
	}

	switch final.Status {
	case poller.StatusReady:
		if item.ID != "" {
			v.deps.Navigator.ShowResult(item, final.URL)
		}
	case poller.StatusExhausted:
		v.notify(SeverityInfo, msgStillProcessing)
	case poller.StatusError:
		v.notify(SeverityError, msgResultFailed)
	}
}

func (v *View) notify(severity Severity, message string) {
	if message == "" {
		return
	}
	v.logger.Debug("view message",
		logging.String("severity", string(severity)),
		logging.String("message", message),
	)
	v.deps.Navigator.Notify(severity, message)
}
