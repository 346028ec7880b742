package handler_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terminal-archives/paperledger/internal/content"
	"github.com/terminal-archives/paperledger/internal/ledger"
	"github.com/terminal-archives/paperledger/internal/server/handler"
)

var attachmentExts = []string{"txt", "pdf", "png", "jpg", "jpeg", "gif", "json", "csv", "zip"}

func setupLedgerRouter(t *testing.T, signer *ledger.Signer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	files, err := content.NewStore(t.TempDir(), attachmentExts)
	if err != nil {
		t.Fatal(err)
	}
	store := ledger.NewMemoryStore(ledger.NewBuilder(signer))
	h := handler.NewLedgerHandler(store, ledger.NewVerifier(store, signer), files, nil, zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r
}

func postJSON(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeEntry(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp["ok"] != true {
		t.Fatalf("response not ok: %s", body)
	}
	entry, ok := resp["entry"].(map[string]any)
	if !ok {
		t.Fatalf("no entry in response: %s", body)
	}
	return entry
}

func TestAppend_firstAndSecondEntryChain(t *testing.T) {
	router := setupLedgerRouter(t, nil)

	w := postJSON(t, router, "/api/v1/metadata", `{"resource_id":"doc-1","metadata":{"title":"x"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	e1 := decodeEntry(t, w.Body.Bytes())
	if e1["prev_hash"] != "" {
		t.Errorf("first entry prev_hash: got %v", e1["prev_hash"])
	}
	hash1, _ := e1["entry_hash"].(string)
	if len(hash1) != 64 {
		t.Errorf("entry_hash length: got %d", len(hash1))
	}
	if _, present := e1["signature"]; present {
		t.Errorf("unsigned append carries signature: %v", e1["signature"])
	}

	w = postJSON(t, router, "/api/v1/metadata", `{"resource_id":"doc-1","metadata":{"title":"y"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	e2 := decodeEntry(t, w.Body.Bytes())
	if e2["prev_hash"] != hash1 {
		t.Errorf("second entry prev_hash=%v, want %s", e2["prev_hash"], hash1)
	}
}

func TestAppend_missingResourceID(t *testing.T) {
	router := setupLedgerRouter(t, nil)
	w := postJSON(t, router, "/api/v1/metadata", `{"metadata":{"title":"x"}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAppend_invalidMetadataForm(t *testing.T) {
	router := setupLedgerRouter(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("resource_id", "doc-1") //nolint:errcheck
	mw.WriteField("metadata", "{not json") //nolint:errcheck
	mw.Close() //nolint:errcheck

	req := httptest.NewRequest(http.MethodPost, "/api/v1/metadata", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAppend_withAttachment(t *testing.T) {
	router := setupLedgerRouter(t, nil)
	fileBody := "attachment bytes"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("resource_id", "doc-1")       //nolint:errcheck
	mw.WriteField("created_by", "alice")        //nolint:errcheck
	mw.WriteField("metadata", `{"title":"x"}`) //nolint:errcheck
	fw, err := mw.CreateFormFile("scan", "page1.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(fileBody)) //nolint:errcheck
	mw.Close()                 //nolint:errcheck

	req := httptest.NewRequest(http.MethodPost, "/api/v1/metadata", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	entry := decodeEntry(t, w.Body.Bytes())
	meta, _ := entry["metadata"].(map[string]any)
	files, _ := meta["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("expected 1 attachment in metadata, got %v", meta["files"])
	}
	att, _ := files[0].(map[string]any)
	sum := sha256.Sum256([]byte(fileBody))
	if att["sha256"] != hex.EncodeToString(sum[:]) {
		t.Errorf("attachment sha256: got %v", att["sha256"])
	}
	if att["field"] != "scan" {
		t.Errorf("attachment field: got %v", att["field"])
	}

	// The chain still verifies with the folded attachment metadata.
	vw := httptest.NewRecorder()
	router.ServeHTTP(vw, httptest.NewRequest(http.MethodGet, "/api/v1/ledger/doc-1/verify", nil))
	var res map[string]any
	json.Unmarshal(vw.Body.Bytes(), &res) //nolint:errcheck
	if res["valid"] != true {
		t.Errorf("chain with attachment failed verification: %s", vw.Body.String())
	}
}

func TestGetChain_unknownResourceIsEmpty(t *testing.T) {
	router := setupLedgerRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/unknown-resource", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		OK      bool             `json:"ok"`
		Entries []map[string]any `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Entries == nil || len(resp.Entries) != 0 {
		t.Errorf("expected empty entries array, got %v", resp.Entries)
	}
}

func TestGetEntry_notFound(t *testing.T) {
	router := setupLedgerRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/entry/deadbeef", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetEntry_byHash(t *testing.T) {
	router := setupLedgerRouter(t, nil)

	w := postJSON(t, router, "/api/v1/metadata", `{"resource_id":"doc-1","metadata":{"title":"x"}}`)
	hash := decodeEntry(t, w.Body.Bytes())["entry_hash"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/entry/"+hash, nil)
	gw := httptest.NewRecorder()
	router.ServeHTTP(gw, req)

	if gw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", gw.Code, gw.Body.String())
	}
	entry := decodeEntry(t, gw.Body.Bytes())
	if entry["entry_hash"] != hash {
		t.Errorf("wrong entry returned: %v", entry["entry_hash"])
	}
}

func TestVerify_signedChain(t *testing.T) {
	router := setupLedgerRouter(t, ledger.NewSigner("server-secret"))

	w := postJSON(t, router, "/api/v1/metadata", `{"resource_id":"doc-1","metadata":{"title":"x"}}`)
	entry := decodeEntry(t, w.Body.Bytes())
	if sig, _ := entry["signature"].(string); len(sig) != 64 {
		t.Errorf("signed append missing signature: %v", entry["signature"])
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/doc-1/verify", nil)
	vw := httptest.NewRecorder()
	router.ServeHTTP(vw, req)

	var res map[string]any
	if err := json.Unmarshal(vw.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res["valid"] != true {
		t.Errorf("signed chain failed verification: %s", vw.Body.String())
	}
}
