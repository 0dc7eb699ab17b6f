package ffmpegdev

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"rehearse/internal/capture"
	"rehearse/internal/config"
	"rehearse/internal/logging"
)

var commandContext = exec.CommandContext

// Device opens a V4L2 camera node through ffmpeg.
type Device struct {
	binary string
	path   string
	logger *slog.Logger

	probeOnce sync.Once
	encoders  map[string]bool
	probeErr  error
}

// New builds a Device from capture configuration.
func New(cfg *config.Config, logger *slog.Logger) *Device {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Device{
		binary: "ffmpeg",
		logger: logging.NewComponentLogger(logger, "ffmpegdev"),
	}
	if cfg != nil {
		if bin := strings.TrimSpace(cfg.Capture.FFmpegBinary); bin != "" {
			d.binary = bin
		}
		d.path = strings.TrimSpace(cfg.Capture.Device)
	}
	return d
}

// Open starts the camera capture process.
func (d *Device) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := checkNode(d.path); err != nil {
		return nil, err
	}
	if c.Width <= 0 || c.Height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", c.Width, c.Height)
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 30
	}
	if err := d.probe(ctx); err != nil {
		d.logger.Warn("encoder probe failed; recording will be unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "encoder_probe_failed"),
		)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := commandContext(streamCtx, d.binary, captureArgs(d.path, c)...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: ffmpeg binary %q not found", capture.ErrNoDevice, d.binary)
		}
		return nil, fmt.Errorf("start capture: %w", err)
	}

	info := capture.DeviceInfo{
		Label:     d.path,
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: c.FrameRate,
	}
	s := newStream(streamCtx, cancel, d, info, c.AudioDevice)
	go s.readFrames(cmd, stdout, &stderr)

	d.logger.Debug("capture process started",
		logging.String("device", d.path),
		logging.Int("width", c.Width),
		logging.Int("height", c.Height),
	)
	return s, nil
}

func (d *Device) probe(ctx context.Context) error {
	d.probeOnce.Do(func() {
		out, err := commandContext(ctx, d.binary, "-hide_banner", "-encoders").Output() //nolint:gosec
		if err != nil {
			d.probeErr = fmt.Errorf("probe encoders: %w", err)
			d.encoders = map[string]bool{}
			return
		}
		d.encoders = parseEncoders(string(out))
	})
	return d.probeErr
}

func (d *Device) supports(mimeType string) bool {
	_, ok := planFor(mimeType, d.encoders)
	return ok
}

func checkNode(path string) error {
	if path == "" {
		return capture.ErrNoDevice
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", capture.ErrNoDevice, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return fmt.Errorf("%w: %s: %v", capture.ErrPermissionDenied, path, err)
	}
	return nil
}

func captureArgs(path string, c capture.Constraints) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-framerate", formatRate(c.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}
