// Package detector runs an external face detector as a long-lived subprocess
// speaking JSON lines over stdin/stdout.
//
// Request (one line per frame):
//
//	{"frame_data":"<base64 rgb24>","width":320,"height":180,"meta":{"seq":12}}
//
// Response (one line per request):
//
//	{"data":{"frame_seq":12,"faces":[{"box":{...},"left_eye":{...},"right_eye":{...},"score":0.98}]},"error":""}
//
// Frames are downscaled before being sent and detections are mapped back to
// source coordinates.
package detector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"rehearse/internal/capture"
	"rehearse/internal/guidance"
	"rehearse/internal/logging"
)

var commandContext = exec.CommandContext

const (
	defaultMaxWidth = 320
	stopTimeout     = 2 * time.Second
)

// ErrClosed is returned by Detect after Close.
var ErrClosed = errors.New("detector closed")

type request struct {
	FrameData string      `json:"frame_data"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Meta      requestMeta `json:"meta"`
}

type requestMeta struct {
	Seq uint64 `json:"seq"`
}

type response struct {
	Data struct {
		FrameSeq uint64          `json:"frame_seq"`
		Faces    []guidance.Face `json:"faces"`
	} `json:"data"`
	Error string `json:"error"`
}

// Process is a running detector subprocess. Requests and responses travel
// through goroutines that own stdin and stdout, so a detector that stops
// answering never blocks Detect past its context or Close.
type Process struct {
	logger   *slog.Logger
	maxWidth int

	mu sync.Mutex // one request in flight

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	requests  chan []byte
	responses chan []byte
	readErr   error
	done      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
	exited    chan struct{}
}

// Start launches commandLine (split on whitespace) and returns the running process.
func Start(ctx context.Context, commandLine string, logger *slog.Logger) (*Process, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("detector command is empty")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "detector")

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := commandContext(procCtx, fields[0], fields[1:]...) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("detector stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("detector stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("detector stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start detector: %w", err)
	}

	p := &Process{
		logger:    logger,
		maxWidth:  defaultMaxWidth,
		cmd:       cmd,
		stdin:     stdin,
		requests:  make(chan []byte),
		responses: make(chan []byte),
		done:      make(chan struct{}),
		cancel:    cancel,
		exited:    make(chan struct{}),
	}
	drained := make(chan struct{})
	go p.writeRequests()
	go func() {
		defer close(drained)
		p.readResponses(stdout)
	}()
	go p.logStderr(stderr)
	go func() {
		defer close(p.exited)
		<-drained
		if err := cmd.Wait(); err != nil && procCtx.Err() == nil {
			p.logger.Warn("detector exited unexpectedly",
				logging.Error(err),
				logging.String(logging.FieldEventType, "detector_exited"),
				logging.String(logging.FieldImpact, "framing guidance unavailable"),
			)
		}
	}()
	return p, nil
}

// Detect sends one frame and waits for its detections. It returns early
// with ctx.Err() when ctx ends and with ErrClosed once Close is called.
func (p *Process) Detect(ctx context.Context, frame capture.Frame) ([]guidance.Face, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scaled, factor := downscale(frame, p.maxWidth)
	payload, err := json.Marshal(request{
		FrameData: base64.StdEncoding.EncodeToString(scaled.Pix),
		Width:     scaled.Width,
		Height:    scaled.Height,
		Meta:      requestMeta{Seq: frame.Seq},
	})
	if err != nil {
		return nil, fmt.Errorf("encode detector request: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case p.requests <- append(payload, '\n'):
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrClosed
	}

	// Responses to abandoned requests are skipped by sequence number.
	for {
		select {
		case line, ok := <-p.responses:
			if !ok {
				if p.readErr != nil {
					return nil, fmt.Errorf("read detector response: %w", p.readErr)
				}
				return nil, io.ErrUnexpectedEOF
			}
			var resp response
			if err := json.Unmarshal(line, &resp); err != nil {
				p.logger.Debug("skipping malformed detector output", logging.Error(err))
				continue
			}
			if resp.Data.FrameSeq != 0 && resp.Data.FrameSeq != frame.Seq {
				continue
			}
			if resp.Error != "" {
				return nil, fmt.Errorf("detector: %s", resp.Error)
			}
			return scaleFaces(resp.Data.Faces, factor), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, ErrClosed
		}
	}
}

// Close stops the subprocess, killing it if it does not exit promptly. It
// never waits for an in-flight Detect.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.stdin.Close()
	})

	select {
	case <-p.exited:
	case <-time.After(stopTimeout):
		p.cancel()
		<-p.exited
	}
	p.cancel()
	return nil
}

func (p *Process) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) writeRequests() {
	for {
		select {
		case <-p.done:
			return
		case payload := <-p.requests:
			if _, err := p.stdin.Write(payload); err != nil && !p.isClosed() {
				p.logger.Debug("write detector request failed", logging.Error(err))
			}
		}
	}
}

// readResponses forwards stdout lines until EOF or Close. readErr is set
// before responses is closed.
func (p *Process) readResponses(stdout io.Reader) {
	defer close(p.responses)
	lines := bufio.NewScanner(stdout)
	lines.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for lines.Scan() {
		line := bytes.Clone(lines.Bytes())
		select {
		case p.responses <- line:
		case <-p.done:
			return
		}
	}
	p.readErr = lines.Err()
}

func (p *Process) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			p.logger.Error(line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			p.logger.Warn(line)
		default:
			p.logger.Debug(line)
		}
	}
}

// downscale reduces frame to at most maxWidth pixels wide by nearest-neighbour
// sampling. The returned factor maps scaled coordinates back to the source.
func downscale(frame capture.Frame, maxWidth int) (capture.Frame, float64) {
	if maxWidth <= 0 || frame.Width <= maxWidth || frame.Height <= 0 || len(frame.Pix) < frame.Width*frame.Height*3 {
		return frame, 1
	}
	factor := float64(frame.Width) / float64(maxWidth)
	w := maxWidth
	h := max(1, int(float64(frame.Height)/factor))
	pix := make([]byte, w*h*3)
	for y := range h {
		sy := min(frame.Height-1, int(float64(y)*factor))
		for x := range w {
			sx := min(frame.Width-1, int(float64(x)*factor))
			copy(pix[(y*w+x)*3:(y*w+x)*3+3], frame.Pix[(sy*frame.Width+sx)*3:])
		}
	}
	return capture.Frame{Seq: frame.Seq, Width: w, Height: h, Pix: pix, At: frame.At}, factor
}

func scaleFaces(faces []guidance.Face, factor float64) []guidance.Face {
	if factor == 1 {
		return faces
	}
	scalePoint := func(p *guidance.Point) *guidance.Point {
		if p == nil {
			return nil
		}
		return &guidance.Point{X: p.X * factor, Y: p.Y * factor}
	}
	out := make([]guidance.Face, len(faces))
	for i, f := range faces {
		out[i] = guidance.Face{
			Box: guidance.Box{
				X:      f.Box.X * factor,
				Y:      f.Box.Y * factor,
				Width:  f.Box.Width * factor,
				Height: f.Box.Height * factor,
			},
			LeftEye:  scalePoint(f.LeftEye),
			RightEye: scalePoint(f.RightEye),
			Score:    f.Score,
		}
	}
	return out
}
