package practice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"rehearse/internal/config"
	"rehearse/internal/services"
)

type fakeTokens struct {
	mu         sync.Mutex
	token      string
	refreshed  string
	refreshErr error
	refreshes  int
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeTokens) Refresh(_ context.Context, stale string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.token = f.refreshed
	return f.token, nil
}

func newTestClient(t *testing.T, handler http.Handler, tokens *fakeTokens) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.Server.BaseURL = srv.URL
	if tokens == nil {
		tokens = &fakeTokens{token: "t1"}
	}
	return NewClient(&cfg, tokens)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func artifactFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.webm")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func uploadResponse() UploadResponse {
	return UploadResponse{
		Session: Session{ID: "s1", TotalItems: 2, CompletedItems: 1, Items: []Item{
			{ID: "i1", Index: 0, IsCompleted: true, RecordingURL: "https://cdn/i1.webm"},
			{ID: "i2", Index: 1},
		}},
		Item:      Item{ID: "i1", Index: 0, IsCompleted: true, RecordingURL: "https://cdn/i1.webm"},
		HasNext:   true,
		NextIndex: 1,
	}
}

func TestCreateAndReplaceRecording(t *testing.T) {
	cases := []struct {
		name   string
		method string
		call   func(*Client, context.Context, Upload) (UploadResponse, error)
	}{
		{"create", http.MethodPost, func(c *Client, ctx context.Context, u Upload) (UploadResponse, error) {
			return c.CreateRecording(ctx, "s1", "i1", u)
		}},
		{"replace", http.MethodPut, func(c *Client, ctx context.Context, u Upload) (UploadResponse, error) {
			return c.ReplaceRecording(ctx, "s1", "i1", u)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != tc.method || r.URL.Path != "/api/sessions/s1/items/i1/recording" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer t1" {
					t.Errorf("unexpected authorization %q", got)
				}
				if r.Header.Get("X-Request-ID") == "" {
					t.Error("expected request id header")
				}
				file, header, err := r.FormFile("file")
				if err != nil {
					t.Fatalf("form file: %v", err)
				}
				data, _ := io.ReadAll(file)
				if string(data) != "video-bytes" || header.Filename != "take.webm" {
					t.Errorf("unexpected upload %q %q", header.Filename, data)
				}
				writeJSON(w, http.StatusOK, uploadResponse())
			}), nil)

			resp, err := tc.call(client, context.Background(), Upload{
				Path:     artifactFile(t, "video-bytes"),
				FileName: "take.webm",
				MimeType: "video/webm",
			})
			if err != nil {
				t.Fatalf("upload: %v", err)
			}
			if !resp.HasNext || resp.NextIndex != 1 || resp.Item.RecordingURL == "" {
				t.Fatalf("unexpected response %+v", resp)
			}
		})
	}
}

func TestUnauthorizedRefreshesOnceAndReopensArtifact(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	tokens := &fakeTokens{token: "old", refreshed: "new"}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err == nil {
			data, _ := io.ReadAll(file)
			mu.Lock()
			bodies = append(bodies, string(data))
			mu.Unlock()
		}
		if r.Header.Get("Authorization") != "Bearer new" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		writeJSON(w, http.StatusOK, uploadResponse())
	}), tokens)

	if _, err := client.CreateRecording(context.Background(), "s1", "i1", Upload{Path: artifactFile(t, "abc")}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if tokens.refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", tokens.refreshes)
	}
	if len(bodies) != 2 || bodies[0] != "abc" || bodies[1] != "abc" {
		t.Fatalf("expected artifact to be sent in full twice, got %q", bodies)
	}
}

func TestUnauthorizedAfterRefreshIsAuthExpired(t *testing.T) {
	tokens := &fakeTokens{token: "old", refreshed: "still-bad"}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	}), tokens)

	_, err := client.Session(context.Background(), "s1")
	if !errors.Is(err, services.ErrAuthExpired) || StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected auth expired with 401, got %v", err)
	}
	if tokens.refreshes != 1 {
		t.Fatalf("expected a single refresh attempt, got %d", tokens.refreshes)
	}
}

func TestRefreshFailureIsAuthExpired(t *testing.T) {
	tokens := &fakeTokens{token: "old", refreshErr: errors.New("refresh rejected")}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, nil)
	}), tokens)
	_, err := client.Session(context.Background(), "s1")
	if services.Classify(err) != services.RecoveryReauthenticate {
		t.Fatalf("expected reauthenticate, got %v", err)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusNotFound, services.ErrNotFound},
		{http.StatusBadRequest, services.ErrValidation},
		{http.StatusUnprocessableEntity, services.ErrValidation},
		{http.StatusConflict, services.ErrIncomplete},
		{http.StatusInternalServerError, services.ErrTransient},
		{http.StatusBadGateway, services.ErrTransient},
	}
	for _, tc := range cases {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, tc.status, map[string]string{"detail": http.StatusText(tc.status)})
		}), nil)
		_, err := client.CompleteSession(context.Background(), "s1")
		if !errors.Is(err, tc.marker) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.marker, err)
		}
		if StatusCode(err) != tc.status {
			t.Errorf("status %d: StatusCode=%d", tc.status, StatusCode(err))
		}
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	cfg := config.Default()
	cfg.Server.BaseURL = "http://127.0.0.1:1"
	client := NewClient(&cfg, &fakeTokens{token: "t"})
	_, err := client.Result(context.Background(), "s1", "i1")
	if services.Classify(err) != services.RecoveryRetry {
		t.Fatalf("expected retryable failure, got %v", err)
	}
}

func TestItemByIndexAndResult(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sessions/s1/items":
			if r.URL.Query().Get("index") != "3" {
				t.Errorf("unexpected index %q", r.URL.Query().Get("index"))
			}
			writeJSON(w, http.StatusOK, Item{ID: "i4", Index: 3, Prompt: "Describe your week"})
		case "/api/sessions/s1/items/i4/result":
			writeJSON(w, http.StatusOK, Result{Status: ResultReady, URL: "https://cdn/i4-processed.mp4"})
		default:
			http.NotFound(w, r)
		}
	}), nil)

	item, err := client.ItemByIndex(context.Background(), "s1", 3)
	if err != nil || item.ID != "i4" {
		t.Fatalf("item = %+v, %v", item, err)
	}
	result, err := client.Result(context.Background(), "s1", "i4")
	if err != nil || result.Status != ResultReady || result.URL == "" {
		t.Fatalf("result = %+v, %v", result, err)
	}
}

func TestInvalidResponsesAreRejected(t *testing.T) {
	cases := map[string]any{
		"unknown status":    map[string]string{"status": "queued"},
		"ready without url": map[string]string{"status": "ready"},
	}
	for name, body := range cases {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, body)
		}), nil)
		if _, err := client.Result(context.Background(), "s1", "i1"); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Session{ID: "s1", TotalItems: 1, CompletedItems: 2})
	}), nil)
	if _, err := client.Session(context.Background(), "s1"); err == nil {
		t.Fatal("expected completed > total to be rejected")
	}
}

func TestEmptyResponseBodies(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), nil)

	if _, err := client.Result(context.Background(), "s1", "i1"); err == nil {
		t.Fatal("expected empty result body to be rejected")
	} else if services.Classify(err) != services.RecoveryRetry {
		t.Fatalf("expected transient classification, got %v", err)
	}
	if _, err := client.Session(context.Background(), "s1"); err == nil {
		t.Fatal("expected empty session body to be rejected")
	}
	if _, err := client.CompleteSession(context.Background(), "s1"); err != nil {
		t.Fatalf("expected empty completion body to be accepted, got %v", err)
	}
}
