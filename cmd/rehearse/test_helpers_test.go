package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"rehearse/internal/config"
	"rehearse/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	server     *httptest.Server
	api        *fakeAPI
}

// fakeAPI is a minimal practice server with two items.
type fakeAPI struct {
	mu          sync.Mutex
	completed   map[string]bool
	uploads     []string
	resultCalls int
	readyAfter  int
	rejectNext  bool
}

func (f *fakeAPI) session() map[string]any {
	items := []map[string]any{
		{"id": "i1", "index": 0, "prompt": "Introduce yourself", "is_completed": f.completed["i1"]},
		{"id": "i2", "index": 1, "prompt": "Describe a challenge", "is_completed": f.completed["i2"]},
	}
	done := 0
	for _, v := range f.completed {
		if v {
			done++
		}
	}
	return map[string]any{
		"id": "s1", "title": "Interview practice",
		"total_items": 2, "completed_items": done,
		"items": items,
	}
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	authorized := func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer test-token"
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/sessions/{sid}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.PathValue("sid") != "s1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.session())
	})
	mux.HandleFunc("GET /api/sessions/{sid}/items", func(w http.ResponseWriter, r *http.Request) {
		index := r.URL.Query().Get("index")
		f.mu.Lock()
		defer f.mu.Unlock()
		items := f.session()["items"].([]map[string]any)
		for _, item := range items {
			if index == "" || jsonInt(item["index"]) == index {
				writeJSON(w, http.StatusOK, item)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /api/sessions/{sid}/items/{iid}/recording", func(w http.ResponseWriter, r *http.Request) {
		f.upload(t, w, r, writeJSON, "create")
	})
	mux.HandleFunc("PUT /api/sessions/{sid}/items/{iid}/recording", func(w http.ResponseWriter, r *http.Request) {
		f.upload(t, w, r, writeJSON, "replace")
	})
	mux.HandleFunc("POST /api/sessions/{sid}/complete", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"redirect": "/sessions/" + r.PathValue("sid") + "/review"})
	})
	mux.HandleFunc("GET /api/sessions/{sid}/items/{iid}/result", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.resultCalls++
		if f.resultCalls > f.readyAfter {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "url": "https://cdn.example/" + r.PathValue("iid") + ".mp4"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "processing"})
	})
	return mux
}

func (f *fakeAPI) upload(t *testing.T, w http.ResponseWriter, r *http.Request, writeJSON func(http.ResponseWriter, int, any), endpoint string) {
	file, header, err := r.FormFile("file")
	if err != nil {
		t.Errorf("missing multipart file: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_ = file.Close()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, endpoint+":"+header.Filename)
	if f.rejectNext {
		f.rejectNext = false
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	iid := r.PathValue("iid")
	f.completed[iid] = true
	session := f.session()
	hasNext := !f.completed["i2"]
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    session,
		"item":       map[string]any{"id": iid, "is_completed": true},
		"has_next":   hasNext,
		"next_index": 1,
	})
}

func jsonInt(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	api := &fakeAPI{completed: map[string]bool{}}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("REHEARSE_API_TOKEN", "")
	t.Setenv("REHEARSE_BASE_URL", "")

	cfg := testsupport.NewConfig(t,
		testsupport.WithServerURL(srv.URL),
		testsupport.WithAPIToken("test-token"),
	)
	cfg.Logging.Level = "error"

	configPath := filepath.Join(base, "rehearse.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &cliTestEnv{cfg: cfg, configPath: configPath, server: srv, api: api}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func writeRecording(t *testing.T, dir, name string) string {
	t.Helper()
	return testsupport.WriteRecording(t, dir, name, 2048)
}
