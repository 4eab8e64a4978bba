package chatlog

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ErrConflict is returned by Write when the document changed since the
// expected version was fetched. It is an expected, retryable condition under
// concurrent senders, not a generic failure.
var ErrConflict = errors.New("chatlog: version conflict")

// Store is the contract for the remote versioned document store: fetch the
// current document with its version tag, and write a new document conditioned
// on that tag.
type Store interface {
	// Fetch returns the current entries and the opaque version tag they were
	// read at. A missing or malformed document is a soft failure: Fetch
	// returns an empty log with an empty tag and no error. Only transport
	// and unexpected HTTP errors are surfaced.
	Fetch(ctx context.Context) ([]Entry, string, error)

	// Write stores the full entry list conditioned on expectedVersion
	// matching the store's current tag. It returns the new version tag on
	// success and ErrConflict if another writer got there first. An empty
	// expectedVersion creates the document.
	Write(ctx context.Context, entries []Entry, expectedVersion string) (string, error)
}

// GitHubConfig holds the settings for the GitHub contents API store.
type GitHubConfig struct {
	APIURL   string // base URL, e.g. "https://api.github.com"
	Repo     string // "owner/name"
	FilePath string // path of the log document within the repo
	Token    string // bearer token
	Timeout  time.Duration
}

// DefaultGitHubConfig returns the settings used by the hosted deployment,
// minus the token.
func DefaultGitHubConfig() GitHubConfig {
	return GitHubConfig{
		APIURL:   "https://api.github.com",
		Repo:     "M1noa/simple-chat",
		FilePath: "chat.json",
		Timeout:  15 * time.Second,
	}
}

// GitHubStore implements Store against the GitHub contents API. The file
// content is a base64-encoded JSON array of entries; the blob sha serves as
// the version tag. PUT with a stale sha is rejected by the API, which is
// exactly the compare-and-swap this package needs.
type GitHubStore struct {
	config GitHubConfig
	client *http.Client
}

// NewGitHubStore creates a GitHubStore with the given configuration.
func NewGitHubStore(config GitHubConfig) *GitHubStore {
	if config.APIURL == "" {
		config.APIURL = "https://api.github.com"
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &GitHubStore{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// contentsResponse is the subset of the contents API GET response we use.
type contentsResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

// putRequest is the contents API PUT body.
type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

// putResponse is the subset of the contents API PUT response we use.
type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (s *GitHubStore) contentsURL() string {
	return fmt.Sprintf("%s/repos/%s/contents/%s", s.config.APIURL, s.config.Repo, s.config.FilePath)
}

func (s *GitHubStore) setHeaders(req *http.Request) {
	if s.config.Token != "" {
		req.Header.Set("Authorization", "token "+s.config.Token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
}

// Fetch retrieves the current chat log document and its version tag. A 404,
// missing content, or undecodable document degrades to an empty log with no
// error; the caller simply starts from empty.
func (s *GitHubStore) Fetch(ctx context.Context) ([]Entry, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.contentsURL(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("chatlog: build fetch request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("chatlog: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Document does not exist yet. The first Write will create it.
		return []Entry{}, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("chatlog: fetch: unexpected status %d: %s", resp.StatusCode, body)
	}

	var contents contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&contents); err != nil {
		log.Printf("chatlog: malformed contents response, treating log as empty: %v", err)
		return []Entry{}, "", nil
	}
	if contents.Content == "" {
		log.Printf("chatlog: contents response missing content, treating log as empty")
		return []Entry{}, contents.SHA, nil
	}

	// The API wraps base64 content at 60 columns; strip the newlines first.
	raw, err := base64.StdEncoding.DecodeString(stripNewlines(contents.Content))
	if err != nil {
		log.Printf("chatlog: undecodable document content, treating log as empty: %v", err)
		return []Entry{}, contents.SHA, nil
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Printf("chatlog: document is not a JSON entry array, treating log as empty: %v", err)
		return []Entry{}, contents.SHA, nil
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, contents.SHA, nil
}

// Write stores the full entry list conditioned on expectedVersion. GitHub
// answers a stale sha with 409, which maps to ErrConflict.
func (s *GitHubStore) Write(ctx context.Context, entries []Entry, expectedVersion string) (string, error) {
	doc, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("chatlog: encode document: %w", err)
	}

	body, err := json.Marshal(putRequest{
		Message: "Update chat log",
		Content: base64.StdEncoding.EncodeToString(doc),
		SHA:     expectedVersion,
	})
	if err != nil {
		return "", fmt.Errorf("chatlog: encode write request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.contentsURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chatlog: build write request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chatlog: write: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var put putResponse
		if err := json.NewDecoder(resp.Body).Decode(&put); err != nil {
			return "", fmt.Errorf("chatlog: decode write response: %w", err)
		}
		return put.Content.SHA, nil
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// 409 is the documented sha-mismatch answer; 422 shows up for the
		// same condition on file creation races.
		return "", ErrConflict
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chatlog: write: unexpected status %d: %s", resp.StatusCode, respBody)
	}
}

func stripNewlines(s string) string {
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			continue
		}
		buf = append(buf, s[i])
	}
	return string(buf)
}
