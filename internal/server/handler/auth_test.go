package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terminal-archives/paperledger/internal/auth"
	"github.com/terminal-archives/paperledger/internal/content"
	"github.com/terminal-archives/paperledger/internal/ledger"
	"github.com/terminal-archives/paperledger/internal/server/handler"
)

func setupAuthedRouter(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	files, err := content.NewStore(t.TempDir(), attachmentExts)
	if err != nil {
		t.Fatal(err)
	}
	store := ledger.NewMemoryStore(ledger.NewBuilder(nil))
	tokens := auth.NewTokenIssuer(secret, "http://localhost:8080", time.Hour)

	lh := handler.NewLedgerHandler(store, ledger.NewVerifier(store, nil), files, nil, zap.NewNop())
	lh.SetTokenIssuer(tokens)
	ah := handler.NewAuthHandler(tokens, secret, zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1")
	lh.Register(v1)
	ah.Register(v1)
	return r
}

func TestLogin_andAuthedAppend(t *testing.T) {
	router := setupAuthedRouter(t, "admin-secret")

	// Unauthenticated append is rejected.
	w := postJSON(t, router, "/api/v1/metadata", `{"resource_id":"doc-1"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	// Login with the admin secret.
	w = postJSON(t, router, "/api/v1/auth/login", `{"name":"alice","secret":"admin-secret"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &loginResp); err != nil {
		t.Fatal(err)
	}
	if loginResp.Token == "" {
		t.Fatal("login returned no token")
	}

	// Append with the token succeeds.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metadata", strings.NewReader(`{"resource_id":"doc-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	aw := httptest.NewRecorder()
	router.ServeHTTP(aw, req)
	if aw.Code != http.StatusOK {
		t.Fatalf("authed append: expected 200, got %d: %s", aw.Code, aw.Body.String())
	}
}

func TestLogin_wrongSecret(t *testing.T) {
	router := setupAuthedRouter(t, "admin-secret")

	w := postJSON(t, router, "/api/v1/auth/login", `{"name":"mallory","secret":"guess"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAppend_openModeWithoutIssuer(t *testing.T) {
	// No token issuer configured: append is open.
	router := setupLedgerRouter(t, nil)
	w := postJSON(t, router, "/api/v1/metadata", `{"resource_id":"doc-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 in open mode, got %d", w.Code)
	}
}
