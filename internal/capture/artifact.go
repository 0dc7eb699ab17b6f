package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ArtifactStore writes assembled recordings to an ephemeral directory.
type ArtifactStore struct {
	dir string
	now func() time.Time
}

// NewArtifactStore builds a store rooted at dir.
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir, now: time.Now}
}

// Assemble concatenates the chunks into a single artifact file.
func (s *ArtifactStore) Assemble(chunks [][]byte, mimeType string, elapsed time.Duration) (Artifact, error) {
	if len(chunks) == 0 {
		return Artifact{}, errors.New("no recorded data")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("ensure artifact directory: %w", err)
	}

	id := uuid.NewString()
	ext := ExtensionFor(mimeType)
	path := filepath.Join(s.dir, "recording-"+id+"."+ext)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Artifact{}, fmt.Errorf("create artifact: %w", err)
	}
	var size int64
	for _, chunk := range chunks {
		n, err := file.Write(chunk)
		size += int64(n)
		if err != nil {
			_ = file.Close()
			_ = os.Remove(path)
			return Artifact{}, fmt.Errorf("write artifact: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return Artifact{}, fmt.Errorf("close artifact: %w", err)
	}

	return Artifact{
		ID:        id,
		Path:      path,
		URL:       FileURL(path),
		MimeType:  mimeType,
		Extension: ext,
		Size:      size,
		Elapsed:   elapsed,
		CreatedAt: s.now(),
	}, nil
}

// Revoke deletes the artifact file. Missing files are not an error.
func (s *ArtifactStore) Revoke(a Artifact) error {
	if a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("revoke artifact: %w", err)
	}
	return nil
}

// FileURL renders a local path as a file:// URL.
func FileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
