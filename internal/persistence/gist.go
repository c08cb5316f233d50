package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haldvik/skribo/internal/document"
)

const (
	defaultGistAPIURL  = "https://api.github.com"
	defaultGistTimeout = 10 * time.Second
)

var (
	errMissingGistToken = errors.New("persistence: gist token is required")
	errMissingGistID    = errors.New("persistence: gist id is required")
	errMissingGistFile  = errors.New("persistence: gist filename is required")
)

// GistConfig configures the remote-blob adapter. APIURL and Timeout fall back
// to sensible defaults when zero.
type GistConfig struct {
	APIURL     string
	Token      string
	GistID     string
	Filename   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// GistAdapter persists the archive as one file inside a Gist-style versioned
// blob, fetched with GET and rewritten with a token-authenticated PATCH.
type GistAdapter struct {
	apiURL   string
	token    string
	gistID   string
	filename string
	client   *http.Client
	timeout  time.Duration
}

// NewGist constructs a remote-blob adapter.
func NewGist(cfg GistConfig) (*GistAdapter, error) {
	if cfg.Token == "" {
		return nil, errMissingGistToken
	}
	if cfg.GistID == "" {
		return nil, errMissingGistID
	}
	if cfg.Filename == "" {
		return nil, errMissingGistFile
	}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultGistAPIURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGistTimeout
	}

	return &GistAdapter{
		apiURL:   apiURL,
		token:    cfg.Token,
		gistID:   cfg.GistID,
		filename: cfg.Filename,
		client:   client,
		timeout:  timeout,
	}, nil
}

type gistPayload struct {
	Files map[string]gistFile `json:"files"`
}

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Load fetches the gist and decodes the archive from the configured file.
// An absent file yields an empty archive.
func (a *GistAdapter) Load(ctx context.Context) (document.Archive, error) {
	requestCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, a.gistURL(), nil)
	if err != nil {
		return document.Archive{}, fmt.Errorf("persistence: build gist request: %w", err)
	}
	a.authorize(request)

	response, err := a.client.Do(request)
	if err != nil {
		return document.Archive{}, fmt.Errorf("persistence: fetch gist: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return document.Archive{}, fmt.Errorf("persistence: fetch gist: unexpected status %d", response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return document.Archive{}, fmt.Errorf("persistence: read gist response: %w", err)
	}

	var payload gistPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return document.Archive{}, fmt.Errorf("persistence: decode gist response: %w", err)
	}

	file, ok := payload.Files[a.filename]
	if !ok || file.Content == "" {
		return document.NewArchive(), nil
	}
	// The API truncates large file bodies; a partial payload could still
	// parse as a smaller valid archive.
	if file.Truncated {
		return document.Archive{}, fmt.Errorf("persistence: gist file %s is truncated", a.filename)
	}

	archive, err := document.ParseArchive([]byte(file.Content))
	if err != nil {
		return document.Archive{}, fmt.Errorf("persistence: decode gist file %s: %w", a.filename, err)
	}
	return archive, nil
}

// Save rewrites the configured gist file with the encoded archive.
func (a *GistAdapter) Save(ctx context.Context, archive document.Archive) error {
	content, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("persistence: encode archive: %w", err)
	}

	body, err := json.Marshal(gistPayload{
		Files: map[string]gistFile{a.filename: {Content: string(content)}},
	})
	if err != nil {
		return fmt.Errorf("persistence: encode gist payload: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodPatch, a.gistURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("persistence: build gist request: %w", err)
	}
	a.authorize(request)
	request.Header.Set("Content-Type", "application/json")

	response, err := a.client.Do(request)
	if err != nil {
		return fmt.Errorf("persistence: update gist: %w", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body) //nolint:errcheck

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("persistence: update gist: unexpected status %d", response.StatusCode)
	}
	return nil
}

func (a *GistAdapter) gistURL() string {
	return fmt.Sprintf("%s/gists/%s", a.apiURL, a.gistID)
}

func (a *GistAdapter) authorize(request *http.Request) {
	request.Header.Set("Authorization", "Bearer "+a.token)
	request.Header.Set("Accept", "application/vnd.github+json")
}
