package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terminal-archives/paperledger/internal/content"
)

// FilesHandler serves stored uploads (archived papers and ledger
// attachments share one directory).
type FilesHandler struct {
	files  *content.Store
	logger *zap.Logger
}

// NewFilesHandler creates a FilesHandler.
func NewFilesHandler(files *content.Store, logger *zap.Logger) *FilesHandler {
	return &FilesHandler{files: files, logger: logger}
}

// Register mounts the download route directly on the engine so the URL
// matches the paths recorded in ledger metadata and paper listings.
func (h *FilesHandler) Register(r *gin.Engine) {
	r.GET("/uploads/:filename", h.Serve)
}

// Serve handles GET /uploads/:filename with traversal and extension
// checks; anything suspicious is a plain 404.
func (h *FilesHandler) Serve(c *gin.Context) {
	path, err := h.files.Path(c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not_found"})
		return
	}
	c.File(path)
}
