package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// webmMagic is the EBML header signature that opens every WebM file.
var webmMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

// WriteRecording creates a fake recording named name under dir and returns
// its path. The file starts with a WebM signature and is padded to size
// bytes; a size smaller than the signature writes the signature only.
func WriteRecording(t testing.TB, dir, name string, size int) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	pad := max(size-len(webmMagic), 0)
	data := append(bytes.Clone(webmMagic), bytes.Repeat([]byte{0x42}, pad)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write recording %s: %v", path, err)
	}
	return path
}
