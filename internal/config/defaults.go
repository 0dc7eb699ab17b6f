package config

const (
	defaultConfigPath            = "~/.config/rehearse/config.toml"
	defaultStateDir              = "~/.local/share/rehearse"
	defaultArtifactDir           = "~/.cache/rehearse/artifacts"
	defaultLogDir                = "~/.local/share/rehearse/logs"
	defaultBaseURL               = "http://127.0.0.1:8000"
	defaultTokenFile             = "~/.local/share/rehearse/auth.json"
	defaultRequestTimeoutSeconds = 120
	defaultLoginPath             = "/login"
	defaultHomePath              = "/"
	defaultRedirectDelayMillis   = 2000
	defaultCaptureDevice         = "/dev/video0"
	defaultAudioDevice           = "default"
	defaultCaptureWidth          = 1280
	defaultCaptureHeight         = 720
	defaultCaptureFrameRate      = 30
	defaultFFmpegBinary          = "ffmpeg"
	defaultMaxCenterErrorPct     = 25
	defaultMinFaceScalePct       = 12
	defaultMaxFaceScalePct       = 75
	defaultMaxRollDegrees        = 30
	defaultStableFrames          = 3
	defaultPollIntervalMillis    = 3000
	defaultPollMaxIntervalMillis = 30000
	defaultPollMaxAttempts       = 10
	defaultProcessingLockMillis  = 1000
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 14
	defaultPollBackoff           = false
	maxPollAttemptsAllowed       = 1000
	minProcessingLockMillis      = 50
)

// DefaultEncodings is the ordered encoder candidate list probed at runtime.
var DefaultEncodings = []string{
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/webm",
	"video/mp4",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	encodings := make([]string, len(DefaultEncodings))
	copy(encodings, DefaultEncodings)
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
		},
		Server: Server{
			BaseURL:               defaultBaseURL,
			TokenFile:             defaultTokenFile,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
			LoginPath:             defaultLoginPath,
			HomePath:              defaultHomePath,
			RedirectDelayMillis:   defaultRedirectDelayMillis,
		},
		Capture: Capture{
			Device:       defaultCaptureDevice,
			AudioDevice:  defaultAudioDevice,
			Width:        defaultCaptureWidth,
			Height:       defaultCaptureHeight,
			FrameRate:    defaultCaptureFrameRate,
			Encodings:    encodings,
			FFmpegBinary: defaultFFmpegBinary,
		},
		Guidance: Guidance{
			MaxCenterErrorPct: defaultMaxCenterErrorPct,
			MinFaceScalePct:   defaultMinFaceScalePct,
			MaxFaceScalePct:   defaultMaxFaceScalePct,
			MaxRollDegrees:    defaultMaxRollDegrees,
			StableFrames:      defaultStableFrames,
		},
		Poll: Poll{
			IntervalMillis:    defaultPollIntervalMillis,
			MaxIntervalMillis: defaultPollMaxIntervalMillis,
			MaxAttempts:       defaultPollMaxAttempts,
			Backoff:           defaultPollBackoff,
		},
		UI: UI{
			ProcessingLockMillis: defaultProcessingLockMillis,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
