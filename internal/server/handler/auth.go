package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terminal-archives/paperledger/internal/auth"
)

// AuthHandler exchanges the configured admin secret for a session token.
// It is only registered when an admin secret is set.
type AuthHandler struct {
	tokens      *auth.TokenIssuer
	adminSecret string
	logger      *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(tokens *auth.TokenIssuer, adminSecret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, adminSecret: adminSecret, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/login", h.Login)
}

type loginRequest struct {
	Name   string `json:"name" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "name and secret required"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.adminSecret)) != 1 {
		h.logger.Warn("failed admin login", zap.String("name", req.Name), zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid credentials"})
		return
	}

	token, err := h.tokens.Issue(req.Name)
	if err != nil {
		h.logger.Error("issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "token": token})
}
