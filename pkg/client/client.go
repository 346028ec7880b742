// Package client provides the Go SDK for the paperledger HTTP API:
// appending metadata ledger entries, reading and verifying resource
// chains, and uploading exam papers to the archive.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound is returned when the server reports a missing entry or chain.
var ErrNotFound = errors.New("not found")

// Entry mirrors one ledger row as returned by the API.
type Entry struct {
	ID         int64          `json:"id"`
	ResourceID string         `json:"resource_id"`
	Metadata   map[string]any `json:"metadata"`
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	PrevHash   string         `json:"prev_hash"`
	EntryHash  string         `json:"entry_hash"`
	Signature  string         `json:"signature,omitempty"`
	AnchorTx   string         `json:"anchor_tx,omitempty"`
}

// VerifyResult is the outcome of a chain verification call.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	BrokenAt string `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Paper is one archived exam paper with its tags parsed from the filename.
type Paper struct {
	Class        string `json:"class"`
	Subject      string `json:"subject"`
	Semester     string `json:"semester"`
	Year         string `json:"year"`
	ExamType     string `json:"exam_type"`
	Medium       string `json:"medium"`
	Uploader     string `json:"uploader"`
	OriginalName string `json:"original_name"`
	URL          string `json:"url"`
}

// AppendRequest is the payload for AppendMetadata.
type AppendRequest struct {
	ResourceID string         `json:"resource_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedBy  string         `json:"created_by,omitempty"`
}

// PaperUpload describes one PDF to archive along with its tags.
type PaperUpload struct {
	Path      string // local path to the PDF
	AdminName string
	Class     string
	Subject   string
	Semester  string
	Year      string
	ExamType  string
	Medium    string
}

// PaperResult holds the archive location returned by UploadPaper.
type PaperResult struct {
	StoredAs string `json:"stored_as"`
	URL      string `json:"url"`
}

// Client is the paperledger SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *chainCache

	// token state — guarded by mu
	mu          sync.Mutex
	bearerToken string
	loginName   string
	loginSecret string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithCacheTTL enables in-memory chain caching with the given TTL.
// Cached chains for a resource are dropped when the client appends to it.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newChainCache(ttl)
		return nil
	}
}

// WithBearerToken attaches a pre-obtained admin token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithCredentials stores an admin name and secret; the client logs in
// lazily before the first authenticated call and caches the token.
func WithCredentials(name, secret string) Option {
	return func(c *Client) error {
		c.loginName = name
		c.loginSecret = secret
		return nil
	}
}

// New creates a Client connected to baseURL.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithCredentials("alice", secret),
//	    client.WithCacheTTL(60*time.Second),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Login exchanges the admin name and secret for a bearer token, caches it,
// and returns it. Not required when the server runs with auth disabled.
func (c *Client) Login(ctx context.Context, name, secret string) (string, error) {
	token, err := c.loginRaw(ctx, name, secret)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.loginName = name
	c.loginSecret = secret
	c.mu.Unlock()
	return token, nil
}

// loginRaw posts to the login endpoint without touching cached state. It
// uses the raw httpClient (not c.do) so no stale bearer token is attached.
func (c *Client) loginRaw(ctx context.Context, name, secret string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"name": name, "secret": secret})
	url := c.baseURL + "/api/v1/auth/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read login response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("login error %d: %s", resp.StatusCode, string(body))
	}

	var payload2 struct {
		OK    bool   `json:"ok"`
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload2); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if payload2.Error != "" {
		return "", fmt.Errorf("login error: %s", payload2.Error)
	}
	return payload2.Token, nil
}

// ensureToken returns the cached bearer token, logging in first when
// credentials were supplied and no token is held yet. Thread-safe.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" {
		return c.bearerToken, nil
	}
	if c.loginName == "" {
		// No credentials configured — server may be running open.
		return "", nil
	}

	token, err := c.loginRaw(ctx, c.loginName, c.loginSecret)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	return token, nil
}

// AppendMetadata appends one entry to a resource's chain and returns the
// committed entry, including its hash and position.
func (c *Client) AppendMetadata(ctx context.Context, ar AppendRequest) (*Entry, error) {
	payload, err := json.Marshal(ar)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + "/api/v1/metadata"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.doAuth(ctx, req)
	if err != nil {
		return nil, err
	}
	entry, err := decodeEntryResponse(body)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.drop(ar.ResourceID)
	}
	return entry, nil
}

// AppendWithFiles is like AppendMetadata but also attaches local files.
// The server stores each file, records its SHA-256 digest in the entry's
// metadata under "files", and commits everything atomically. Keys of files
// are form field names, values are local paths.
func (c *Client) AppendWithFiles(ctx context.Context, ar AppendRequest, files map[string]string) (*Entry, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("resource_id", ar.ResourceID); err != nil {
		return nil, fmt.Errorf("write form field: %w", err)
	}
	if ar.CreatedBy != "" {
		if err := mw.WriteField("created_by", ar.CreatedBy); err != nil {
			return nil, fmt.Errorf("write form field: %w", err)
		}
	}
	if ar.Metadata != nil {
		meta, err := json.Marshal(ar.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		if err := mw.WriteField("metadata", string(meta)); err != nil {
			return nil, fmt.Errorf("write form field: %w", err)
		}
	}

	for field, path := range files {
		if err := attachFile(mw, field, path); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}

	url := c.baseURL + "/api/v1/metadata"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	body, err := c.doAuth(ctx, req)
	if err != nil {
		return nil, err
	}
	entry, err := decodeEntryResponse(body)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.drop(ar.ResourceID)
	}
	return entry, nil
}

// Chain returns a resource's full ledger, oldest first. An empty slice
// means the resource has no history yet.
func (c *Client) Chain(ctx context.Context, resourceID string) ([]Entry, error) {
	if c.cache != nil {
		if entries, ok := c.cache.get(resourceID); ok {
			return entries, nil
		}
	}

	url := c.baseURL + "/api/v1/ledger/" + resourceID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Entries []Entry `json:"entries"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if c.cache != nil {
		c.cache.set(resourceID, wrapper.Entries)
	}
	return wrapper.Entries, nil
}

// VerifyChain asks the server to re-verify a resource's chain.
func (c *Client) VerifyChain(ctx context.Context, resourceID string) (*VerifyResult, error) {
	url := c.baseURL + "/api/v1/ledger/" + resourceID + "/verify"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result VerifyResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// EntryByHash fetches a single entry by its hash from GET /api/v1/entry/:hash.
// Returns ErrNotFound when no entry carries that hash.
func (c *Client) EntryByHash(ctx context.Context, entryHash string) (*Entry, error) {
	url := c.baseURL + "/api/v1/entry/" + entryHash
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeEntryResponse(body)
}

// Papers lists every archived exam paper.
func (c *Client) Papers(ctx context.Context) ([]Paper, error) {
	url := c.baseURL + "/api/v1/papers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Papers []Paper `json:"papers"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return wrapper.Papers, nil
}

// UploadPaper posts a local PDF and its tags to the archive and returns
// where it was stored.
func (c *Client) UploadPaper(ctx context.Context, up PaperUpload) (*PaperResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"admin_name": up.AdminName,
		"class":      up.Class,
		"subject":    up.Subject,
		"semester":   up.Semester,
		"exam_year":  up.Year,
		"exam_type":  up.ExamType,
		"medium":     up.Medium,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write form field: %w", err)
		}
	}
	if err := attachFile(mw, "file", up.Path); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}

	url := c.baseURL + "/api/v1/papers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	body, err := c.doAuth(ctx, req)
	if err != nil {
		return nil, err
	}

	var result PaperResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// DownloadPaper streams an archived file to a local path. name is the
// stored filename as returned by Papers or UploadPaper.
func (c *Client) DownloadPaper(ctx context.Context, name, destPath string) error {
	url := c.baseURL + "/uploads/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server error %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	return out.Close()
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}

func decodeEntryResponse(body []byte) (*Entry, error) {
	var wrapper struct {
		Entry *Entry `json:"entry"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode entry response: %w", err)
	}
	if wrapper.Entry == nil {
		return nil, fmt.Errorf("response missing entry")
	}
	return wrapper.Entry, nil
}

// doAuth executes a request after resolving the bearer token, logging in
// first when credentials are configured and no token is cached.
func (c *Client) doAuth(ctx context.Context, req *http.Request) ([]byte, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req)
}

// do executes an HTTP request, attaching the cached bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	c.mu.Lock()
	if c.bearerToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// --- simple in-memory chain cache ---

type chainCacheEntry struct {
	entries   []Entry
	expiresAt time.Time
}

type chainCache struct {
	mu      sync.RWMutex
	entries map[string]*chainCacheEntry
	ttl     time.Duration
}

func newChainCache(ttl time.Duration) *chainCache {
	return &chainCache{entries: make(map[string]*chainCacheEntry), ttl: ttl}
}

func (cc *chainCache) get(resourceID string) ([]Entry, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	e, ok := cc.entries[resourceID]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.entries, true
}

func (cc *chainCache) set(resourceID string, entries []Entry) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.entries[resourceID] = &chainCacheEntry{entries: entries, expiresAt: time.Now().Add(cc.ttl)}
}

func (cc *chainCache) drop(resourceID string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.entries, resourceID)
}
