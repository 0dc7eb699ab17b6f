package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
}

// Server contains the practice API connection settings.
type Server struct {
	BaseURL               string `toml:"base_url"`
	APIToken              string `toml:"api_token"`
	RefreshToken          string `toml:"refresh_token"`
	TokenFile             string `toml:"token_file"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	LoginPath             string `toml:"login_path"`
	HomePath              string `toml:"home_path"`
	RedirectDelayMillis   int    `toml:"redirect_delay_ms"`
}

// Capture contains camera/microphone constraints and encoder preferences.
type Capture struct {
	Device       string   `toml:"device"`
	AudioDevice  string   `toml:"audio_device"`
	Width        int      `toml:"width"`
	Height       int      `toml:"height"`
	FrameRate    float64  `toml:"frame_rate"`
	Encodings    []string `toml:"encodings"`
	FFmpegBinary string   `toml:"ffmpeg_binary"`
}

// Guidance contains framing thresholds for the alignment engine.
type Guidance struct {
	MaxCenterErrorPct float64 `toml:"max_center_error_pct"`
	MinFaceScalePct   float64 `toml:"min_face_scale_pct"`
	MaxFaceScalePct   float64 `toml:"max_face_scale_pct"`
	MaxRollDegrees    float64 `toml:"max_roll_degrees"`
	StableFrames      int     `toml:"stable_frames"`
	DetectorCommand   string  `toml:"detector_command"`
}

// Poll contains derived-artifact polling policy.
type Poll struct {
	IntervalMillis    int  `toml:"interval_ms"`
	MaxIntervalMillis int  `toml:"max_interval_ms"`
	MaxAttempts       int  `toml:"max_attempts"`
	Backoff           bool `toml:"backoff"`
}

// UI contains interaction timing knobs.
type UI struct {
	ProcessingLockMillis int `toml:"processing_lock_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for rehearse.
//
// Configuration sections by subsystem:
//   - Paths: state database, ephemeral artifacts, logs
//   - Server: practice API base URL, credentials, redirect targets
//   - Capture: device constraints and ordered encoder candidates
//   - Guidance: framing thresholds and the face detector command
//   - Poll: derived-artifact polling interval, budget, backoff
//   - UI: processing lock fallback
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Server   Server   `toml:"server"`
	Capture  Capture  `toml:"capture"`
	Guidance Guidance `toml:"guidance"`
	Poll     Poll     `toml:"poll"`
	UI       UI       `toml:"ui"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("rehearse.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, artifact, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.ArtifactDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath returns the SQLite submission journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// DeviceLockPath returns the advisory lock file guarding exclusive device use.
func (c *Config) DeviceLockPath() string {
	name := strings.Trim(strings.ReplaceAll(c.Capture.Device, "/", "_"), "_")
	if name == "" {
		name = "default"
	}
	return filepath.Join(c.Paths.StateDir, name+".lock")
}

// RequestTimeout returns the HTTP request timeout for practice API calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// RedirectDelay returns the delay before handing a redirect to the navigator.
func (c *Config) RedirectDelay() time.Duration {
	return time.Duration(c.Server.RedirectDelayMillis) * time.Millisecond
}

// ProcessingLockTimeout returns the fallback release delay for the input lock.
func (c *Config) ProcessingLockTimeout() time.Duration {
	return time.Duration(c.UI.ProcessingLockMillis) * time.Millisecond
}

// PollInterval returns the base delay between result polls.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMillis) * time.Millisecond
}

// PollMaxInterval returns the cap applied when backoff is enabled.
func (c *Config) PollMaxInterval() time.Duration {
	return time.Duration(c.Poll.MaxIntervalMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
