package ffmpegdev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"rehearse/internal/logging"
)

const chunkSize = 64 * 1024

type recorder struct {
	s    *stream
	plan encodePlan

	stopping  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	stopped   atomic.Bool
	started   atomic.Bool
	cancel    context.CancelFunc
	unsub     func()
	waitErr   error
	stderrBuf strings.Builder
}

func newRecorder(s *stream, plan encodePlan) *recorder {
	return &recorder{
		s:        s,
		plan:     plan,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *recorder) args() []string {
	info := r.s.info
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-video_size", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-framerate", formatRate(info.FrameRate),
		"-i", "pipe:0",
	}
	if r.s.audioDevice != "" {
		args = append(args, "-f", "alsa", "-i", r.s.audioDevice, "-shortest")
	}
	args = append(args, "-c:v", r.plan.video)
	switch r.plan.video {
	case "libvpx-vp9", "libvpx":
		args = append(args, "-deadline", "realtime", "-cpu-used", "8")
	case "libx264":
		args = append(args, "-preset", "veryfast", "-pix_fmt", "yuv420p")
	}
	if r.s.audioDevice != "" {
		args = append(args, "-c:a", r.plan.audio)
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-f", r.plan.format)
	args = append(args, r.plan.extraArgs...)
	return append(args, "pipe:1")
}

// Start launches the encoder process. The process dies with the stream.
func (r *recorder) Start(ctx context.Context, onChunk func([]byte), onError func(error)) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("recorder already started")
	}
	recCtx, cancel := context.WithCancel(r.s.ctx)
	stopWatch := context.AfterFunc(ctx, cancel)
	r.cancel = func() {
		stopWatch()
		cancel()
	}

	cmd := commandContext(recCtx, r.s.dev.binary, r.args()...) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		r.cancel()
		return fmt.Errorf("recorder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.cancel()
		return fmt.Errorf("recorder stdout: %w", err)
	}
	cmd.Stderr = &r.stderrBuf
	if err := cmd.Start(); err != nil {
		r.cancel()
		return fmt.Errorf("start recorder: %w", err)
	}

	frames, unsub := r.s.subscribe(8)
	r.unsub = unsub

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-r.stopping:
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if _, err := stdin.Write(frame.Pix); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer close(r.done)
		for {
			buf := make([]byte, chunkSize)
			n, readErr := stdout.Read(buf)
			if n > 0 && onChunk != nil {
				onChunk(buf[:n])
			}
			if readErr != nil {
				if !errors.Is(readErr, io.EOF) {
					r.waitErr = readErr
				}
				break
			}
		}
		if err := cmd.Wait(); err != nil && r.waitErr == nil {
			r.waitErr = fmt.Errorf("recorder process: %w: %s", err, strings.TrimSpace(r.stderrBuf.String()))
		}
		if r.waitErr != nil && !r.stopped.Load() && onError != nil {
			onError(r.waitErr)
		}
	}()

	r.s.dev.logger.Debug("recorder started",
		logging.String("format", r.plan.format),
		logging.String("video_encoder", r.plan.video),
		logging.String("audio_encoder", r.plan.audio),
	)
	return nil
}

// Stop closes the encoder input and waits for the container to be flushed.
// It is safe to call more than once.
func (r *recorder) Stop(ctx context.Context) error {
	if !r.started.Load() {
		return nil
	}
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		if r.unsub != nil {
			r.unsub()
		}
		close(r.stopping)
	})
	select {
	case <-r.done:
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return ctx.Err()
	}
	r.cancel()
	return r.waitErr
}
