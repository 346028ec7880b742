package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terminal-archives/paperledger/internal/auth"
	"github.com/terminal-archives/paperledger/internal/content"
	"github.com/terminal-archives/paperledger/internal/papers"
)

// PapersHandler serves the exam-paper archive: tag-based uploads and the
// parsed listing.
type PapersHandler struct {
	archive *papers.Archive
	tokens  *auth.TokenIssuer // nil = open mode, no auth on upload
	logger  *zap.Logger
}

// NewPapersHandler creates a PapersHandler.
func NewPapersHandler(archive *papers.Archive, logger *zap.Logger) *PapersHandler {
	return &PapersHandler{archive: archive, logger: logger}
}

// SetTokenIssuer enables admin token enforcement on the upload route.
func (h *PapersHandler) SetTokenIssuer(tokens *auth.TokenIssuer) {
	h.tokens = tokens
}

// Register mounts the paper routes on the given router group.
func (h *PapersHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/papers", auth.RequireAdmin(h.tokens), h.Upload)
	rg.GET("/papers", h.List)
}

// Upload handles POST /papers: a multipart form with the paper PDF and
// its required tag fields. Tags are sanitized and encoded into the
// stored filename.
func (h *PapersHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "no file provided"})
		return
	}
	if !content.ValidName(fh.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid filename"})
		return
	}
	if !papers.IsPDF(fh.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "only PDF files are allowed"})
		return
	}

	tags := papers.Tags{
		Class:    c.PostForm("class"),
		Subject:  c.PostForm("subject"),
		Semester: c.PostForm("semester"),
		Year:     c.PostForm("exam_year"),
		ExamType: c.PostForm("exam_type"),
		Medium:   c.PostForm("medium"),
		Uploader: c.PostForm("admin_name"),
	}
	if err := tags.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing or empty form field"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.logger.Error("open upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "upload failed"})
		return
	}
	defer f.Close() //nolint:errcheck

	stored, err := h.archive.Save(f, tags, content.SecureFilename(fh.Filename))
	switch {
	case err == nil:
	case errors.Is(err, papers.ErrFilenameTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "generated filename too long, use shorter values"})
		return
	case errors.Is(err, papers.ErrMissingTag), errors.Is(err, papers.ErrNotPDF):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	default:
		h.logger.Error("archive save", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "upload failed"})
		return
	}

	paperUploadsTotal.Inc()
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"stored_as": stored,
		"url":       "/uploads/" + stored,
	})
}

// List handles GET /papers — every archived paper with its tags parsed
// back out of the filename.
func (h *PapersHandler) List(c *gin.Context) {
	list, err := h.archive.List()
	if err != nil {
		h.logger.Error("archive list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to read archive"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "papers": list})
}
