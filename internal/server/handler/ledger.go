package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terminal-archives/paperledger/internal/anchor"
	"github.com/terminal-archives/paperledger/internal/auth"
	"github.com/terminal-archives/paperledger/internal/content"
	"github.com/terminal-archives/paperledger/internal/ledger"
)

// LedgerHandler exposes the metadata ledger over HTTP: append with
// optional file attachments, chain and entry reads, and on-demand
// chain verification.
type LedgerHandler struct {
	store    ledger.Store
	verifier *ledger.Verifier
	files    *content.Store
	anchors  anchor.Publisher
	tokens   *auth.TokenIssuer // nil = open mode, no auth on append
	logger   *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(store ledger.Store, verifier *ledger.Verifier, files *content.Store, anchors anchor.Publisher, logger *zap.Logger) *LedgerHandler {
	if anchors == nil {
		anchors = anchor.NewNoop()
	}
	return &LedgerHandler{store: store, verifier: verifier, files: files, anchors: anchors, logger: logger}
}

// SetTokenIssuer enables admin token enforcement on the append route.
func (h *LedgerHandler) SetTokenIssuer(tokens *auth.TokenIssuer) {
	h.tokens = tokens
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/metadata", auth.RequireAdmin(h.tokens), h.Append)
	rg.GET("/ledger/:resource_id", h.GetChain)
	rg.GET("/ledger/:resource_id/verify", h.VerifyChain)
	rg.GET("/entry/:entry_hash", h.GetEntry)
}

type appendBody struct {
	ResourceID string         `json:"resource_id"`
	Metadata   map[string]any `json:"metadata"`
	CreatedBy  string         `json:"created_by"`
	AnchorTx   string         `json:"anchor_tx"`
}

// Append handles POST /metadata. It accepts either a JSON body or a
// multipart form with file attachments. Attachments are persisted first
// and folded into metadata["files"]; if the ledger insert then fails
// they are removed again so no attachment outlives a failed append.
func (h *LedgerHandler) Append(c *gin.Context) {
	var req ledger.AppendRequest
	var saved []*content.SavedFile

	if c.ContentType() == "application/json" {
		var body appendBody
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid json body"})
			return
		}
		req = ledger.AppendRequest{
			ResourceID: body.ResourceID,
			Metadata:   body.Metadata,
			CreatedBy:  body.CreatedBy,
			AnchorTx:   body.AnchorTx,
		}
	} else {
		req.ResourceID = c.PostForm("resource_id")
		req.CreatedBy = c.PostForm("created_by")
		req.AnchorTx = c.PostForm("anchor_tx")

		if raw := c.PostForm("metadata"); raw != "" {
			dec := json.NewDecoder(strings.NewReader(raw))
			dec.UseNumber()
			if err := dec.Decode(&req.Metadata); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid metadata json"})
				return
			}
		}

		var err error
		saved, err = h.saveAttachments(c)
		if err != nil {
			h.discardAttachments(saved)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to store attachment"})
			return
		}
	}

	if req.ResourceID == "" {
		h.discardAttachments(saved)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "resource_id required"})
		return
	}

	if len(saved) > 0 {
		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		files, _ := req.Metadata["files"].([]any)
		for _, sf := range saved {
			files = append(files, attachmentMeta(sf))
		}
		req.Metadata["files"] = files
	}

	entry, err := h.store.Append(c.Request.Context(), req)
	if err != nil {
		h.discardAttachments(saved)
		h.appendError(c, err)
		return
	}

	ledgerAppendsTotal.Inc()
	if err := h.anchors.Publish(c.Request.Context(), entry); err != nil {
		// The append is committed; a missed anchor event is only logged.
		h.logger.Warn("anchor publish failed",
			zap.String("entry_hash", entry.EntryHash),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "entry": entry})
}

// saveAttachments persists every file in the multipart form that passes
// the extension whitelist; disallowed files are skipped.
func (h *LedgerHandler) saveAttachments(c *gin.Context) ([]*content.SavedFile, error) {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return nil, nil // no multipart body at all
	}

	var saved []*content.SavedFile
	for field, headers := range form.File {
		for _, fh := range headers {
			if !h.files.Allowed(fh.Filename) {
				h.logger.Warn("attachment skipped, extension not allowed",
					zap.String("field", field),
					zap.String("filename", fh.Filename),
				)
				continue
			}
			f, err := fh.Open()
			if err != nil {
				return saved, err
			}
			sf, err := h.files.Save(f, fh.Filename)
			f.Close() //nolint:errcheck
			if err != nil {
				return saved, err
			}
			sf.Field = field
			saved = append(saved, sf)
		}
	}
	return saved, nil
}

// discardAttachments rolls back stored attachments after a failed append.
func (h *LedgerHandler) discardAttachments(saved []*content.SavedFile) {
	for _, sf := range saved {
		if err := h.files.Remove(sf.StoredAs); err != nil {
			h.logger.Warn("attachment rollback failed",
				zap.String("stored_as", sf.StoredAs),
				zap.Error(err),
			)
		}
	}
}

// attachmentMeta flattens a saved file into plain map form so the
// canonical metadata serialization stays key-sorted.
func attachmentMeta(sf *content.SavedFile) map[string]any {
	return map[string]any{
		"field":     sf.Field,
		"filename":  sf.Filename,
		"stored_as": sf.StoredAs,
		"path":      sf.Path,
		"sha256":    sf.SHA256,
	}
}

func (h *LedgerHandler) appendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidResourceID):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "resource_id required"})
	case errors.Is(err, ledger.ErrInvalidMetadata):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid metadata json"})
	case errors.Is(err, ledger.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "concurrent append conflict, retry"})
	default:
		h.logger.Error("ledger append", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to append entry"})
	}
}

// GetChain handles GET /ledger/:resource_id — the resource's full chain
// in creation order. An unknown resource yields an empty list.
func (h *LedgerHandler) GetChain(c *gin.Context) {
	entries, err := h.store.Chain(c.Request.Context(), c.Param("resource_id"))
	if err != nil {
		h.logger.Error("ledger chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to query ledger"})
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "entries": entries})
}

// VerifyChain handles GET /ledger/:resource_id/verify. A broken chain is
// reported as a 200 with diagnostics; only a failure to read the chain
// is an error.
func (h *LedgerHandler) VerifyChain(c *gin.Context) {
	result, err := h.verifier.VerifyChain(c.Request.Context(), c.Param("resource_id"))
	if err != nil {
		h.logger.Error("ledger verify", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to verify chain"})
		return
	}
	ledgerVerifyTotal.WithLabelValues(verifyResultLabel(result)).Inc()
	if !result.Valid {
		h.logger.Warn("chain integrity check failed",
			zap.String("resource_id", c.Param("resource_id")),
			zap.String("broken_at", result.BrokenAt),
			zap.String("reason", string(result.Reason)),
		)
	}
	c.JSON(http.StatusOK, result)
}

// GetEntry handles GET /entry/:entry_hash — point lookup by hash.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	entry, err := h.store.ByHash(c.Request.Context(), c.Param("entry_hash"))
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("ledger entry lookup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "entry": entry})
}

func verifyResultLabel(r *ledger.VerificationResult) string {
	if r.Valid {
		return "valid"
	}
	return string(r.Reason)
}
