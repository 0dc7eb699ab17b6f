package ffmpegdev

import (
	"bufio"
	"strings"

	"rehearse/internal/capture"
)

// parseEncoders extracts encoder names from `ffmpeg -hide_banner -encoders`.
func parseEncoders(output string) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	inList := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inList {
			if strings.HasPrefix(line, "---") {
				inList = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

type codecKind int

const (
	kindVideo codecKind = iota
	kindAudio
)

type codecEncoders struct {
	kind     codecKind
	encoders []string
}

// codecTable maps mime codec tokens to ffmpeg encoders.
var codecTable = map[string]codecEncoders{
	"vp9":    {kindVideo, []string{"libvpx-vp9"}},
	"vp09":   {kindVideo, []string{"libvpx-vp9"}},
	"vp8":    {kindVideo, []string{"libvpx"}},
	"h264":   {kindVideo, []string{"libx264"}},
	"avc1":   {kindVideo, []string{"libx264"}},
	"opus":   {kindAudio, []string{"libopus"}},
	"vorbis": {kindAudio, []string{"libvorbis"}},
	"aac":    {kindAudio, []string{"aac"}},
	"mp4a":   {kindAudio, []string{"aac"}},
}

type container struct {
	format        string
	videoDefaults []string
	audioDefaults []string
	extraArgs     []string
}

var containers = map[string]container{
	"video/webm": {
		format:        "webm",
		videoDefaults: []string{"libvpx-vp9", "libvpx"},
		audioDefaults: []string{"libopus", "libvorbis"},
	},
	"video/mp4": {
		format:        "mp4",
		videoDefaults: []string{"libx264"},
		audioDefaults: []string{"aac"},
		extraArgs:     []string{"-movflags", "frag_keyframe+empty_moov+default_base_moof"},
	},
	"video/x-matroska": {
		format:        "matroska",
		videoDefaults: []string{"libvpx-vp9", "libx264", "libvpx"},
		audioDefaults: []string{"libopus", "aac"},
	},
}

// encodePlan is the ffmpeg encoder selection for one mime type.
type encodePlan struct {
	format    string
	video     string
	audio     string
	extraArgs []string
}

// planFor resolves mimeType against the available encoders.
func planFor(mimeType string, available map[string]bool) (encodePlan, bool) {
	box, ok := containers[capture.ContainerType(mimeType)]
	if !ok {
		return encodePlan{}, false
	}
	plan := encodePlan{format: box.format, extraArgs: box.extraArgs}

	for _, codec := range capture.Codecs(mimeType) {
		token, _, _ := strings.Cut(codec, ".")
		entry, known := codecTable[token]
		if !known {
			return encodePlan{}, false
		}
		encoder := firstAvailable(entry.encoders, available)
		if encoder == "" {
			return encodePlan{}, false
		}
		switch entry.kind {
		case kindVideo:
			plan.video = encoder
		case kindAudio:
			plan.audio = encoder
		}
	}

	if plan.video == "" {
		plan.video = firstAvailable(box.videoDefaults, available)
	}
	if plan.audio == "" {
		plan.audio = firstAvailable(box.audioDefaults, available)
	}
	if plan.video == "" || plan.audio == "" {
		return encodePlan{}, false
	}
	return plan, true
}

func firstAvailable(candidates []string, available map[string]bool) string {
	for _, name := range candidates {
		if available[name] {
			return name
		}
	}
	return ""
}
