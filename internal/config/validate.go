package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateGuidance(); err != nil {
		return err
	}
	if err := c.validatePoll(); err != nil {
		return err
	}
	if c.UI.ProcessingLockMillis < minProcessingLockMillis {
		return fmt.Errorf("ui.processing_lock_ms must be at least %d", minProcessingLockMillis)
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.BaseURL == "" {
		return errors.New("server.base_url must be set")
	}
	parsed, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server.base_url: unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("server.base_url: missing host")
	}
	if !strings.HasPrefix(c.Server.LoginPath, "/") {
		return fmt.Errorf("server.login_path must be absolute, got %q", c.Server.LoginPath)
	}
	if !strings.HasPrefix(c.Server.HomePath, "/") {
		return fmt.Errorf("server.home_path must be absolute, got %q", c.Server.HomePath)
	}
	if c.Server.RedirectDelayMillis < 0 {
		return errors.New("server.redirect_delay_ms must be non-negative")
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture resolution must be positive, got %dx%d", c.Capture.Width, c.Capture.Height)
	}
	if c.Capture.FrameRate <= 0 || c.Capture.FrameRate > 120 {
		return fmt.Errorf("capture.frame_rate must be within (0, 120], got %v", c.Capture.FrameRate)
	}
	for _, enc := range c.Capture.Encodings {
		if !strings.HasPrefix(enc, "video/") {
			return fmt.Errorf("capture.encodings: %q is not a video mime type", enc)
		}
	}
	return nil
}

func (c *Config) validateGuidance() error {
	g := c.Guidance
	if g.MaxCenterErrorPct <= 0 || g.MaxCenterErrorPct > 100 {
		return fmt.Errorf("guidance.max_center_error_pct must be within (0, 100], got %v", g.MaxCenterErrorPct)
	}
	if g.MinFaceScalePct < 0 || g.MaxFaceScalePct > 100 || g.MinFaceScalePct >= g.MaxFaceScalePct {
		return fmt.Errorf("guidance face scale range invalid: [%v, %v]", g.MinFaceScalePct, g.MaxFaceScalePct)
	}
	if g.MaxRollDegrees <= 0 || g.MaxRollDegrees > 90 {
		return fmt.Errorf("guidance.max_roll_degrees must be within (0, 90], got %v", g.MaxRollDegrees)
	}
	return nil
}

func (c *Config) validatePoll() error {
	if c.Poll.IntervalMillis <= 0 {
		return errors.New("poll.interval_ms must be positive")
	}
	if c.Poll.MaxAttempts <= 0 || c.Poll.MaxAttempts > maxPollAttemptsAllowed {
		return fmt.Errorf("poll.max_attempts must be within [1, %d], got %d", maxPollAttemptsAllowed, c.Poll.MaxAttempts)
	}
	if c.Poll.Backoff && c.Poll.MaxIntervalMillis < c.Poll.IntervalMillis {
		return fmt.Errorf("poll.max_interval_ms (%d) must be >= poll.interval_ms (%d) when backoff is enabled", c.Poll.MaxIntervalMillis, c.Poll.IntervalMillis)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
