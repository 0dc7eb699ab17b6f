package ffmpegdev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"rehearse/internal/capture"
	"rehearse/internal/logging"
)

type stream struct {
	ctx         context.Context
	cancel      context.CancelFunc
	dev         *Device
	info        capture.DeviceInfo
	audioDevice string

	preview chan capture.Frame
	done    chan struct{}

	mu      sync.Mutex
	taps    map[chan capture.Frame]struct{}
	closed  bool
	readErr error

	closeOnce sync.Once
}

func newStream(ctx context.Context, cancel context.CancelFunc, dev *Device, info capture.DeviceInfo, audioDevice string) *stream {
	return &stream{
		ctx:         ctx,
		cancel:      cancel,
		dev:         dev,
		info:        info,
		audioDevice: strings.TrimSpace(audioDevice),
		preview:     make(chan capture.Frame, 1),
		done:        make(chan struct{}),
		taps:        make(map[chan capture.Frame]struct{}),
	}
}

func (s *stream) Info() capture.DeviceInfo { return s.info }

func (s *stream) Frames() <-chan capture.Frame { return s.preview }

func (s *stream) Supports(mimeType string) bool { return s.dev.supports(mimeType) }

func (s *stream) NewRecorder(mimeType string) (capture.Recorder, error) {
	plan, ok := planFor(mimeType, s.dev.encoders)
	if !ok {
		return nil, fmt.Errorf("%w: %s", capture.ErrNoEncoding, mimeType)
	}
	return newRecorder(s, plan), nil
}

// Close stops the capture process and waits for the frame reader to exit.
// Active recorders are killed with the stream.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil && !errors.Is(s.readErr, context.Canceled) {
		return s.readErr
	}
	return nil
}

// subscribe registers a latest-wins frame tap.
func (s *stream) subscribe(buffer int) (<-chan capture.Frame, func()) {
	ch := make(chan capture.Frame, buffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.taps[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.taps, ch)
	}
}

func (s *stream) readFrames(cmd *exec.Cmd, stdout io.Reader, stderr *strings.Builder) {
	defer close(s.done)

	size := s.info.Width * s.info.Height * 3
	var seq uint64
	var readErr error
	for {
		pix := make([]byte, size)
		if _, err := io.ReadFull(stdout, pix); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				readErr = err
			}
			break
		}
		seq++
		s.publish(capture.Frame{
			Seq:    seq,
			Width:  s.info.Width,
			Height: s.info.Height,
			Pix:    pix,
			At:     time.Now(),
		})
	}

	waitErr := cmd.Wait()
	if s.ctx.Err() != nil {
		readErr = context.Canceled
	} else if waitErr != nil && readErr == nil {
		readErr = fmt.Errorf("capture process: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		logging.WarnWithContext(s.dev.logger, "capture stream ended", "capture_stream_ended",
			logging.Error(readErr),
			logging.String("device", s.info.Label),
			logging.String(logging.FieldImpact, "preview and recording stopped"),
		)
	}

	s.mu.Lock()
	s.closed = true
	s.readErr = readErr
	for ch := range s.taps {
		close(ch)
		delete(s.taps, ch)
	}
	s.mu.Unlock()
	close(s.preview)
}

func (s *stream) publish(frame capture.Frame) {
	offer(s.preview, frame)
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.taps {
		offer(ch, frame)
	}
}

// offer delivers frame without blocking, evicting the oldest buffered frame
// when the consumer is behind.
func offer(ch chan capture.Frame, frame capture.Frame) {
	for range 2 {
		select {
		case ch <- frame:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
