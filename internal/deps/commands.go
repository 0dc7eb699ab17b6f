package deps

import (
	"strings"

	"rehearse/internal/config"
)

// CommandBinary returns the executable of a configured command line.
func CommandBinary(commandLine string) string {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Requirements lists the external binaries the configuration needs.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Capture.FFmpegBinary,
			Description: "Required for camera capture and recording",
		},
	}
	if detector := CommandBinary(cfg.Guidance.DetectorCommand); detector != "" {
		reqs = append(reqs, Requirement{
			Name:        "Face detector",
			Command:     detector,
			Description: "Drives the framing guidance indicator",
			Optional:    true,
		})
	}
	return reqs
}
