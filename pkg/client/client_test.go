package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/terminal-archives/paperledger/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubLedgerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name   string `json:"name"`
			Secret string `json:"secret"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Secret != "hunter2" {
			http.Error(w, `{"ok":false,"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "token": "test-jwt-token"})
	})

	mux.HandleFunc("/api/v1/metadata", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, `{"ok":false,"error":"missing token"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"entry": map[string]any{
				"id":          1,
				"resource_id": "doc-1",
				"metadata":    map[string]any{"status": "reviewed"},
				"created_by":  "alice",
				"created_at":  "2025-03-14T09:26:53Z",
				"prev_hash":   "",
				"entry_hash":  "abc123",
			},
		})
	})

	mux.HandleFunc("/api/v1/ledger/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/verify") {
			json.NewEncoder(w).Encode(map[string]any{"valid": true})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"entries": []map[string]any{
				{"id": 1, "resource_id": "doc-1", "entry_hash": "abc123", "prev_hash": ""},
				{"id": 2, "resource_id": "doc-1", "entry_hash": "def456", "prev_hash": "abc123"},
			},
		})
	})

	mux.HandleFunc("/api/v1/entry/", func(w http.ResponseWriter, r *http.Request) {
		hash := strings.TrimPrefix(r.URL.Path, "/api/v1/entry/")
		if hash == "missing" {
			http.Error(w, `{"ok":false,"error":"not_found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    true,
			"entry": map[string]any{"id": 1, "resource_id": "doc-1", "entry_hash": hash},
		})
	})

	mux.HandleFunc("/api/v1/papers", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, `{"ok":false,"error":"bad form"}`, http.StatusBadRequest)
				return
			}
			if r.FormValue("subject") == "" {
				http.Error(w, `{"ok":false,"error":"missing or empty form field"}`, http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"ok":        true,
				"stored_as": "[BSC]_[Physics]_[Sem-3]_[2025]_[Final]_[English]_[alice]_orig.pdf",
				"url":       "/uploads/[BSC]_[Physics]_[Sem-3]_[2025]_[Final]_[English]_[alice]_orig.pdf",
			})
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"papers": []map[string]any{
					{"class": "BSC", "subject": "Physics", "year": "2025", "original_name": "orig"},
				},
			})
		}
	})

	return httptest.NewServer(mux)
}

func writeTempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paper.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestChain_success(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	entries, err := c.Chain(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].PrevHash != entries[0].EntryHash {
		t.Errorf("chain not linked: %q != %q", entries[1].PrevHash, entries[0].EntryHash)
	}
}

func TestChain_cache(t *testing.T) {
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"entries": []map[string]any{{"id": 1, "entry_hash": "abc"}},
		})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithCacheTTL(5*time.Minute))

	c.Chain(context.Background(), "doc-1")
	c.Chain(context.Background(), "doc-1")

	if callCount != 1 {
		t.Errorf("expected 1 HTTP call (cached), got %d", callCount)
	}
}

func TestAppendMetadata_lazyLogin(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithCredentials("alice", "hunter2"))

	entry, err := c.AppendMetadata(context.Background(), client.AppendRequest{
		ResourceID: "doc-1",
		Metadata:   map[string]any{"status": "reviewed"},
		CreatedBy:  "alice",
	})
	if err != nil {
		t.Fatalf("AppendMetadata: %v", err)
	}
	if entry.EntryHash != "abc123" {
		t.Errorf("unexpected entry hash: %s", entry.EntryHash)
	}
}

func TestAppendMetadata_badCredentials(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithCredentials("alice", "wrong"))

	_, err := c.AppendMetadata(context.Background(), client.AppendRequest{ResourceID: "doc-1"})
	if err == nil {
		t.Error("expected error for bad credentials")
	}
}

func TestAppendMetadata_dropsCachedChain(t *testing.T) {
	chainCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/v1/ledger/") {
			chainCalls++
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "entries": []map[string]any{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    true,
			"entry": map[string]any{"id": 1, "resource_id": "doc-1", "entry_hash": "abc"},
		})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL,
		client.WithCacheTTL(5*time.Minute),
		client.WithBearerToken("test-token"),
	)

	c.Chain(context.Background(), "doc-1")
	c.AppendMetadata(context.Background(), client.AppendRequest{ResourceID: "doc-1"})
	c.Chain(context.Background(), "doc-1")

	if chainCalls != 2 {
		t.Errorf("expected cache drop after append (2 chain calls), got %d", chainCalls)
	}
}

func TestAppendWithFiles_success(t *testing.T) {
	var gotMultipart bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMultipart = strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.FormValue("resource_id") != "doc-1" {
			http.Error(w, "missing resource_id", http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("attachment"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    true,
			"entry": map[string]any{"id": 1, "resource_id": "doc-1", "entry_hash": "abc"},
		})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithBearerToken("test-token"))

	entry, err := c.AppendWithFiles(context.Background(),
		client.AppendRequest{ResourceID: "doc-1", Metadata: map[string]any{"v": "1"}},
		map[string]string{"attachment": writeTempPDF(t)},
	)
	if err != nil {
		t.Fatalf("AppendWithFiles: %v", err)
	}
	if !gotMultipart {
		t.Error("expected multipart/form-data request")
	}
	if entry.ResourceID != "doc-1" {
		t.Errorf("unexpected resource: %s", entry.ResourceID)
	}
}

func TestVerifyChain_success(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	result, err := c.VerifyChain(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain, got %+v", result)
	}
}

func TestEntryByHash_notFound(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	_, err := c.EntryByHash(context.Background(), "missing")
	if err == nil {
		t.Error("expected error for missing entry")
	}
}

func TestLogin_success(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	token, err := c.Login(context.Background(), "alice", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "test-jwt-token" {
		t.Errorf("unexpected token: %s", token)
	}
}

func TestUploadPaper_success(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithBearerToken("test-token"))

	result, err := c.UploadPaper(context.Background(), client.PaperUpload{
		Path:      writeTempPDF(t),
		AdminName: "alice",
		Class:     "BSC",
		Subject:   "Physics",
		Semester:  "3",
		Year:      "2025",
		ExamType:  "Final",
		Medium:    "English",
	})
	if err != nil {
		t.Fatalf("UploadPaper: %v", err)
	}
	if !strings.HasPrefix(result.URL, "/uploads/") {
		t.Errorf("unexpected URL: %s", result.URL)
	}
}

func TestPapers_success(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	papers, err := c.Papers(context.Background())
	if err != nil {
		t.Fatalf("Papers: %v", err)
	}
	if len(papers) != 1 {
		t.Fatalf("expected 1 paper, got %d", len(papers))
	}
	if papers[0].Subject != "Physics" {
		t.Errorf("unexpected subject: %s", papers[0].Subject)
	}
}

func TestDownloadPaper_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/uploads/") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("%PDF-1.4 stored"))
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)

	dest := filepath.Join(t.TempDir(), "out.pdf")
	if err := c.DownloadPaper(context.Background(), "x.pdf", dest); err != nil {
		t.Fatalf("DownloadPaper: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "%PDF-1.4 stored" {
		t.Errorf("unexpected file contents: %q", data)
	}
}
