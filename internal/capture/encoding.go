package capture

import "strings"

// SelectEncoding returns the first candidate the stream supports.
func SelectEncoding(stream interface{ Supports(string) bool }, candidates []string) (string, bool) {
	if stream == nil {
		return "", false
	}
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if stream.Supports(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// ContainerType strips parameters from a mime type ("video/webm;codecs=vp9" → "video/webm").
func ContainerType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// Codecs returns the codecs parameter of a mime type, lowercased.
func Codecs(mimeType string) []string {
	_, params, ok := strings.Cut(mimeType, ";")
	if !ok {
		return nil
	}
	for _, param := range strings.Split(params, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "codecs") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		var codecs []string
		for _, codec := range strings.Split(value, ",") {
			if codec = strings.ToLower(strings.TrimSpace(codec)); codec != "" {
				codecs = append(codecs, codec)
			}
		}
		return codecs
	}
	return nil
}

// ExtensionFor derives the artifact file extension from the negotiated encoding.
func ExtensionFor(mimeType string) string {
	switch ContainerType(mimeType) {
	case "video/mp4":
		return "mp4"
	case "video/x-matroska", "video/matroska":
		return "mkv"
	case "video/ogg":
		return "ogv"
	default:
		return "webm"
	}
}
