package practice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rehearse/internal/poller"
	api "rehearse/internal/services/practice"
	"rehearse/internal/upload"
)

// replacingAPI accepts replacements of i1 without a derived result and
// reports the session as not yet complete.
type replacingAPI struct {
	mu       sync.Mutex
	replaces int
}

func (a *replacingAPI) CreateRecording(context.Context, string, string, api.Upload) (api.UploadResponse, error) {
	return api.UploadResponse{}, errors.New("unexpected create")
}

func (a *replacingAPI) ReplaceRecording(_ context.Context, sessionID, itemID string, _ api.Upload) (api.UploadResponse, error) {
	a.mu.Lock()
	a.replaces++
	a.mu.Unlock()
	return api.UploadResponse{
		Session: api.Session{ID: sessionID, TotalItems: 2, CompletedItems: 1},
		Item:    api.Item{ID: itemID, IsCompleted: true},
	}, nil
}

func (a *replacingAPI) Session(_ context.Context, sessionID string) (api.Session, error) {
	return api.Session{ID: sessionID, TotalItems: 2, CompletedItems: 1}, nil
}

func (a *replacingAPI) ItemByIndex(context.Context, string, int) (api.Item, error) {
	return api.Item{}, errors.New("unexpected item read")
}

func (a *replacingAPI) CompleteSession(context.Context, string) (api.CompleteResponse, error) {
	return api.CompleteResponse{}, errors.New("unexpected completion")
}

// countingFetcher answers ready with a URL numbered by request.
type countingFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFetcher) Result(context.Context, string, string) (api.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return api.Result{Status: api.ResultReady, URL: fmt.Sprintf("https://cdn/result-%d.mp4", f.calls)}, nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newReplacingView(t *testing.T, item api.Item) (*View, *replacingAPI, *countingFetcher, *recordingNavigator) {
	t.Helper()
	server := &replacingAPI{}
	fetcher := &countingFetcher{}
	nav := newNavigator()
	session := api.Session{ID: "s1", TotalItems: 2, CompletedItems: 1, Items: []api.Item{item, {ID: "i2", Index: 1}}}
	view := NewView(session, item, Deps{
		Capture:       &fakeCapture{},
		Submitter:     upload.New(server),
		Poller:        poller.NewSupervisor(fetcher, poller.Config{Interval: time.Millisecond, MaxAttempts: 3}),
		Navigator:     nav,
		RedirectDelay: time.Millisecond,
	})
	t.Cleanup(view.Close)
	return view, server, fetcher, nav
}

func TestReplacedRecordingPollsForNewResult(t *testing.T) {
	item := api.Item{ID: "i1", IsCompleted: true, ResultURL: "https://cdn/old-result.mp4"}
	view, server, fetcher, nav := newReplacingView(t, item)

	if err := view.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if view.Polling() != nil {
		t.Fatal("expected no poll while a result is known")
	}

	record(t, view)
	res, err := view.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != upload.OutcomeDeferred || server.replaces != 1 {
		t.Fatalf("expected deferred replacement, got %s after %d replaces", res.Outcome, server.replaces)
	}
	if res.State.Item.ResultURL != "" {
		t.Fatalf("expected previous result dropped, got %q", res.State.Item.ResultURL)
	}

	if got := nav.expect(t, "result").value; got != "https://cdn/result-1.mp4" {
		t.Fatalf("expected new result, got %q", got)
	}
	if fetcher.count() != 1 {
		t.Fatalf("expected one result request, got %d", fetcher.count())
	}
	if view.ResultURL() != "https://cdn/result-1.mp4" {
		t.Fatalf("unexpected view result %q", view.ResultURL())
	}
}

func TestReplacedRecordingSupersedesPolledResult(t *testing.T) {
	view, _, fetcher, nav := newReplacingView(t, api.Item{ID: "i1", IsCompleted: true})

	if err := view.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := nav.expect(t, "result").value; got != "https://cdn/result-1.mp4" {
		t.Fatalf("expected first result, got %q", got)
	}
	<-view.Polling()

	record(t, view)
	if _, err := view.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := nav.expect(t, "result").value; got != "https://cdn/result-2.mp4" {
		t.Fatalf("expected result of the new take, got %q", got)
	}
	if fetcher.count() != 2 {
		t.Fatalf("expected a second result request, got %d", fetcher.count())
	}
}
