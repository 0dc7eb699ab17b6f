package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rehearse/internal/capture"
	"rehearse/internal/config"
	api "rehearse/internal/services/practice"
)

type itemSelector struct {
	sessionID string
	itemID    string
	index     int
}

// resolveItem loads the session and picks the target item: an explicit item
// ID, an explicit index, or the first item without a recording.
func resolveItem(ctx context.Context, client *api.Client, sel itemSelector) (api.Session, api.Item, error) {
	sessionID := strings.TrimSpace(sel.sessionID)
	if sessionID == "" {
		return api.Session{}, api.Item{}, fmt.Errorf("--session is required")
	}
	session, err := client.Session(ctx, sessionID)
	if err != nil {
		return api.Session{}, api.Item{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if id := strings.TrimSpace(sel.itemID); id != "" {
		item, ok := session.FindItem(id)
		if !ok {
			return session, api.Item{}, fmt.Errorf("item %s is not part of session %s", id, sessionID)
		}
		return session, item, nil
	}

	index := sel.index
	if index < 0 {
		for _, item := range session.Items {
			if !item.IsCompleted {
				return session, item, nil
			}
		}
		if session.IsCompleted || session.AllSubmitted() {
			return session, api.Item{}, fmt.Errorf("every item in session %s already has a recording; pass --item to replace one", sessionID)
		}
		index = session.CompletedItems
	}
	item, err := client.ItemByIndex(ctx, sessionID, index)
	if err != nil {
		return session, api.Item{}, fmt.Errorf("load item %d: %w", index, err)
	}
	return session, item, nil
}

// artifactFromFile describes an existing recording on disk.
func artifactFromFile(path string) (capture.Artifact, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return capture.Artifact{}, err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return capture.Artifact{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return capture.Artifact{}, fmt.Errorf("inspect recording %q: %w", abs, err)
	}
	if info.IsDir() {
		return capture.Artifact{}, fmt.Errorf("%s is a directory", abs)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(abs)), ".")
	return capture.Artifact{
		ID:        strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		Path:      abs,
		URL:       capture.FileURL(abs),
		MimeType:  mimeForExtension(ext),
		Extension: ext,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	}, nil
}

func mimeForExtension(ext string) string {
	switch ext {
	case "mp4", "m4v":
		return "video/mp4"
	case "mkv":
		return "video/x-matroska"
	case "ogv", "ogg":
		return "video/ogg"
	default:
		return "video/webm"
	}
}
