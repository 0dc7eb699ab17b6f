package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rehearse/internal/capture"
	"rehearse/internal/capture/ffmpegdev"
	"rehearse/internal/guidance"
	"rehearse/internal/guidance/detector"
	"rehearse/internal/journal"
	"rehearse/internal/logging"
	"rehearse/internal/poller"
	"rehearse/internal/practice"
	"rehearse/internal/services"
	"rehearse/internal/upload"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var (
		sel      itemSelector
		duration time.Duration
		submit   bool
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a take for a practice item",
		Long: "Record a take from the configured camera. Recording stops after --duration " +
			"or when Enter is pressed. With --submit the take is uploaded immediately.",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecord(runCtx, ctx, cmd, sel, duration, submit, wait)
		},
	}

	cmd.Flags().StringVarP(&sel.sessionID, "session", "s", "", "Practice session ID")
	cmd.Flags().StringVarP(&sel.itemID, "item", "i", "", "Item ID (defaults to the first item without a recording)")
	cmd.Flags().IntVar(&sel.index, "index", -1, "Item index within the session")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop automatically after this long")
	cmd.Flags().BoolVar(&submit, "submit", false, "Upload the take when recording stops")
	cmd.Flags().BoolVar(&wait, "wait", true, "After submitting, wait for the derived result")
	return cmd
}

func runRecord(runCtx context.Context, ctx *commandContext, cmd *cobra.Command, sel itemSelector, duration time.Duration, submit, wait bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger := ctx.log()
	out := cmd.OutOrStdout()

	client, err := ctx.apiClient()
	if err != nil {
		return err
	}
	session, item, err := resolveItem(runCtx, client, sel)
	if err != nil {
		return err
	}

	store, err := journal.Open(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	nav := newTerminalNavigator(out)
	captureOpts := []capture.Option{
		capture.WithDeviceLock(capture.NewFileLock(cfg.DeviceLockPath())),
		capture.WithLogger(logger),
		capture.WithConstraints(capture.ConstraintsFromConfig(cfg)),
		capture.WithEncodings(cfg.Capture.Encodings),
	}

	var loop *guidance.Loop
	if cfg.Guidance.DetectorCommand != "" {
		proc, err := detector.Start(runCtx, cfg.Guidance.DetectorCommand, logger)
		if err != nil {
			logging.WarnWithContext(logger, "face detector unavailable; guidance disabled", "detector_unavailable",
				logging.String(logging.FieldImpact, "no framing feedback while recording"),
				logging.Error(err),
			)
		} else {
			defer proc.Close()
			loop = guidance.NewLoop(guidance.PolicyFromConfig(cfg), proc,
				guidance.WithLoopLogger(logger),
				guidance.WithSampleListener(guidancePrinter(nav)),
			)
			captureOpts = append(captureOpts, capture.WithPreview(loop))
		}
	}

	controller := capture.NewController(
		ffmpegdev.New(cfg, logger),
		capture.NewArtifactStore(cfg.Paths.ArtifactDir),
		captureOpts...,
	)
	orchestrator := upload.New(client, upload.WithJournal(store), upload.WithLogger(logger))
	supervisor := poller.NewSupervisor(client, poller.ConfigFromConfig(cfg),
		poller.WithJournal(store),
		poller.WithLogger(logger),
	)

	deps := practice.DepsFromConfig(cfg, practice.Deps{
		Capture:   controller,
		Submitter: orchestrator,
		Poller:    supervisor,
		Navigator: nav,
		Logger:    logger,
	})
	if loop != nil {
		deps.Guidance = loop
	}
	view := practice.NewView(session, item, deps)
	keep := !submit
	defer func() {
		if keep {
			view.Release()
			return
		}
		view.Close()
	}()

	if err := view.Open(runCtx); err != nil {
		return err
	}
	if err := view.StartRecording(runCtx); err != nil {
		return err
	}
	if snap := controller.Snapshot(); snap.State != capture.StateRecording {
		return fmt.Errorf("recording did not start: %s", snap.Cause)
	}
	fmt.Fprintf(out, "Recording (%s). Press Enter to stop.\n", controller.Snapshot().MimeType)

	waitForStop(runCtx, cmd.InOrStdin(), duration)
	if err := view.StopRecording(context.WithoutCancel(runCtx)); err != nil {
		return err
	}
	artifact, ok := controller.Artifact()
	if !ok {
		return fmt.Errorf("no recording was produced")
	}
	fmt.Fprintf(out, "Recorded %ds to %s (%d bytes)\n", int(artifact.Elapsed.Seconds()), artifact.Path, artifact.Size)
	if !submit {
		fmt.Fprintf(out, "Submit later with: rehearse submit -s %s -i %s %s\n", session.ID, item.ID, artifact.Path)
		return nil
	}

	res, err := submitWhenUnlocked(runCtx, view)
	if err != nil {
		return err
	}
	printOutcome(out, res)
	if res.Outcome == upload.OutcomeFailed && res.Recovery == services.RecoveryRetry {
		keep = true
		fmt.Fprintf(out, "Recording kept at %s; retry with: rehearse submit -s %s -i %s %s\n", artifact.Path, session.ID, item.ID, artifact.Path)
	}
	return settle(runCtx, view, nav, res, wait, deps.RedirectDelay)
}

// submitWhenUnlocked retries Submit while the processing lock from stopping
// is still held.
func submitWhenUnlocked(ctx context.Context, view *practice.View) (upload.Result, error) {
	for {
		res, err := view.Submit(ctx)
		if !errors.Is(err, practice.ErrInputLocked) {
			return res, err
		}
		select {
		case <-ctx.Done():
			return upload.Result{}, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// settle waits for what the view does after a submission: a pending redirect
// or, when requested, the derived result poll.
func settle(ctx context.Context, view *practice.View, nav *terminalNavigator, res upload.Result, wait bool, redirectDelay time.Duration) error {
	switch res.Recovery {
	case services.RecoveryReauthenticate, services.RecoveryRedirect:
		select {
		case <-nav.Done():
		case <-ctx.Done():
		case <-time.After(redirectDelay + time.Second):
		}
	}
	if wait {
		if polling := view.Polling(); polling != nil {
			select {
			case <-polling:
			case <-ctx.Done():
			}
		}
	}
	if res.Outcome == upload.OutcomeFailed {
		return fmt.Errorf("submission failed: %w", res.Err)
	}
	return nil
}

func waitForStop(ctx context.Context, in io.Reader, duration time.Duration) {
	enter := make(chan struct{})
	go func() {
		reader := bufio.NewReader(in)
		if _, err := reader.ReadString('\n'); err == nil {
			close(enter)
		}
	}()

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
	case <-enter:
	case <-timeout:
	}
}

func guidancePrinter(nav *terminalNavigator) func(guidance.Sample) {
	var last guidance.Level
	return func(s guidance.Sample) {
		if s.Level == last {
			return
		}
		last = s.Level
		kind := statusWarn
		switch s.Level {
		case guidance.LevelOK:
			kind = statusOK
		case guidance.LevelIdle:
			kind = statusInfo
		}
		nav.print(kind, "Framing", guidance.Message(s))
	}
}
