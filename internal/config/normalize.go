package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeServer(); err != nil {
		return err
	}
	c.normalizeCapture()
	c.normalizeGuidance()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = defaultArtifactDir
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() error {
	c.Server.BaseURL = strings.TrimRight(strings.TrimSpace(c.Server.BaseURL), "/")
	if value, ok := os.LookupEnv("REHEARSE_BASE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Server.BaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.APIToken == "" {
		if value, ok := os.LookupEnv("REHEARSE_API_TOKEN"); ok {
			c.Server.APIToken = strings.TrimSpace(value)
		}
	}
	c.Server.RefreshToken = strings.TrimSpace(c.Server.RefreshToken)
	if c.Server.RefreshToken == "" {
		if value, ok := os.LookupEnv("REHEARSE_REFRESH_TOKEN"); ok {
			c.Server.RefreshToken = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Server.TokenFile) == "" {
		c.Server.TokenFile = defaultTokenFile
	}
	var err error
	if c.Server.TokenFile, err = expandPath(c.Server.TokenFile); err != nil {
		return fmt.Errorf("server.token_file: %w", err)
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		c.Server.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	c.Server.LoginPath = strings.TrimSpace(c.Server.LoginPath)
	if c.Server.LoginPath == "" {
		c.Server.LoginPath = defaultLoginPath
	}
	c.Server.HomePath = strings.TrimSpace(c.Server.HomePath)
	if c.Server.HomePath == "" {
		c.Server.HomePath = defaultHomePath
	}
	return nil
}

func (c *Config) normalizeCapture() {
	c.Capture.Device = strings.TrimSpace(c.Capture.Device)
	c.Capture.AudioDevice = strings.TrimSpace(c.Capture.AudioDevice)
	c.Capture.FFmpegBinary = strings.TrimSpace(c.Capture.FFmpegBinary)
	if c.Capture.FFmpegBinary == "" {
		c.Capture.FFmpegBinary = defaultFFmpegBinary
	}

	encodings := make([]string, 0, len(c.Capture.Encodings))
	seen := make(map[string]struct{}, len(c.Capture.Encodings))
	for _, enc := range c.Capture.Encodings {
		normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(enc), " ", ""))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		encodings = append(encodings, normalized)
	}
	if len(encodings) == 0 {
		encodings = append(encodings, DefaultEncodings...)
	}
	c.Capture.Encodings = encodings
}

func (c *Config) normalizeGuidance() {
	c.Guidance.DetectorCommand = strings.TrimSpace(c.Guidance.DetectorCommand)
	if c.Guidance.StableFrames <= 0 {
		c.Guidance.StableFrames = defaultStableFrames
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
