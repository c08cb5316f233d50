package persistence

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/haldvik/skribo/internal/document"
)

// fakeGistServer implements just enough of the gist API for the adapter:
// GET returns the stored files, PATCH replaces them.
type fakeGistServer struct {
	mu       sync.Mutex
	files    map[string]gistFile
	requests []*http.Request
	status   int
}

func newFakeGistServer() *fakeGistServer {
	return &fakeGistServer{files: map[string]gistFile{}, status: http.StatusOK}
}

func (f *fakeGistServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Clone(context.Background()))

	if f.status != http.StatusOK {
		w.WriteHeader(f.status)
		return
	}

	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(gistPayload{Files: f.files}) //nolint:errcheck
	case http.MethodPatch:
		body, _ := io.ReadAll(r.Body)
		var payload gistPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for name, file := range payload.Files {
			f.files[name] = file
		}
		w.Write([]byte("{}")) //nolint:errcheck
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeGistServer) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func newTestGistAdapter(t *testing.T, fake *fakeGistServer) *GistAdapter {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	adapter, err := NewGist(GistConfig{
		APIURL:   server.URL,
		Token:    "test-token",
		GistID:   "abc123",
		Filename: "skribo.json",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return adapter
}

func TestGistAdapterRoundTrip(t *testing.T) {
	fake := newFakeGistServer()
	adapter := newTestGistAdapter(t, fake)

	if err := adapter.Save(context.Background(), sampleArchive()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc := loaded.Accounts[document.DefaultAccountID].Document
	if doc.QuickNote != "scratch" {
		t.Fatalf("unexpected quick note: %q", doc.QuickNote)
	}
	if len(loaded.Feed) != 1 {
		t.Fatalf("unexpected feed: %+v", loaded.Feed)
	}
}

func TestGistAdapterSendsAuthAndTargetsTheGist(t *testing.T) {
	fake := newFakeGistServer()
	adapter := newTestGistAdapter(t, fake)

	if err := adapter.Save(context.Background(), sampleArchive()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	request := fake.lastRequest()
	if request == nil {
		t.Fatalf("expected a request to reach the server")
	}
	if request.Method != http.MethodPatch {
		t.Fatalf("expected a PATCH, got %s", request.Method)
	}
	if request.URL.Path != "/gists/abc123" {
		t.Fatalf("unexpected path: %s", request.URL.Path)
	}
	if got := request.Header.Get("Authorization"); got != "Bearer test-token" {
		t.Fatalf("unexpected authorization header: %q", got)
	}
}

func TestGistAdapterAbsentFileYieldsEmptyArchive(t *testing.T) {
	fake := newFakeGistServer()
	adapter := newTestGistAdapter(t, fake)

	archive, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := archive.Accounts[document.DefaultAccountID]; !ok {
		t.Fatalf("expected a normalized empty archive, got %+v", archive)
	}
}

func TestGistAdapterRejectsTruncatedFile(t *testing.T) {
	fake := newFakeGistServer()
	fake.files["skribo.json"] = gistFile{Content: `{"accounts":{}}`, Truncated: true}
	adapter := newTestGistAdapter(t, fake)

	_, err := adapter.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "truncated") {
		t.Fatalf("expected a truncation error, got %v", err)
	}
}

func TestGistAdapterSurfacesHTTPFailures(t *testing.T) {
	fake := newFakeGistServer()
	fake.status = http.StatusBadGateway
	adapter := newTestGistAdapter(t, fake)

	if _, err := adapter.Load(context.Background()); err == nil {
		t.Fatalf("expected a load error for a failing backend")
	}
	if err := adapter.Save(context.Background(), sampleArchive()); err == nil {
		t.Fatalf("expected a save error for a failing backend")
	}
}

func TestNewGistValidatesConfig(t *testing.T) {
	cases := []GistConfig{
		{GistID: "id", Filename: "f"},
		{Token: "t", Filename: "f"},
		{Token: "t", GistID: "id"},
	}
	for index, cfg := range cases {
		if _, err := NewGist(cfg); err == nil {
			t.Fatalf("case %d: expected a config error", index)
		}
	}
}
