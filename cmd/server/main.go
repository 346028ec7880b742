package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/terminal-archives/paperledger/internal/anchor"
	"github.com/terminal-archives/paperledger/internal/audit"
	"github.com/terminal-archives/paperledger/internal/auth"
	"github.com/terminal-archives/paperledger/internal/content"
	"github.com/terminal-archives/paperledger/internal/ledger"
	"github.com/terminal-archives/paperledger/internal/papers"
	"github.com/terminal-archives/paperledger/internal/server/handler"
)

// attachmentExts is the extension whitelist for ledger attachments.
// Archived exam papers are further restricted to PDF by the papers handler.
var attachmentExts = []string{"txt", "pdf", "png", "jpg", "jpeg", "gif", "json", "csv", "zip"}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	_ = godotenv.Load()

	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("paperledger")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("server.max_upload_bytes", int64(10<<20))
	viper.SetDefault("server.base_url", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("storage.upload_dir", "uploads")
	viper.SetDefault("ledger.signing_key", "")
	viper.SetDefault("auth.admin_secret", "")
	viper.SetDefault("auth.token_ttl_seconds", 43200)
	viper.SetDefault("anchor.brokers", []string{})
	viper.SetDefault("anchor.topic", "anchor-feed")
	viper.SetDefault("audit.sweep_interval_seconds", 900)
	viper.SetDefault("audit.alert_after", 1)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Ledger core ──────────────────────────────────────────────────────────
	signer := ledger.NewSigner(viper.GetString("ledger.signing_key"))
	if !signer.Enabled() {
		logger.Warn("no signing key configured — ledger entries will be unsigned")
	}
	builder := ledger.NewBuilder(signer)

	var store ledger.Store
	dbURL := viper.GetString("database.url")
	if dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()
		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		store = ledger.NewPostgresStore(db, builder, logger)
	} else {
		logger.Warn("no database configured — using in-memory ledger store")
		store = ledger.NewMemoryStore(builder)
	}
	verifier := ledger.NewVerifier(store, signer)

	// ── Storage ──────────────────────────────────────────────────────────────
	uploadDir := viper.GetString("storage.upload_dir")
	files, err := content.NewStore(uploadDir, attachmentExts)
	if err != nil {
		return err
	}
	archive, err := papers.NewArchive(uploadDir, logger)
	if err != nil {
		return err
	}
	logger.Info("upload storage ready", zap.String("dir", uploadDir))

	// ── Anchor feed ──────────────────────────────────────────────────────────
	var anchors anchor.Publisher = anchor.NewNoop()
	if brokers := viper.GetStringSlice("anchor.brokers"); len(brokers) > 0 {
		kp, err := anchor.NewKafkaPublisher(brokers, viper.GetString("anchor.topic"), logger)
		if err != nil {
			return fmt.Errorf("anchor publisher: %w", err)
		}
		defer kp.Close() //nolint:errcheck
		anchors = kp
	}

	// ── Admin auth ───────────────────────────────────────────────────────────
	httpPort := viper.GetInt("server.port")
	baseURL := viper.GetString("server.base_url")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	var tokens *auth.TokenIssuer
	adminSecret := viper.GetString("auth.admin_secret")
	if adminSecret != "" {
		ttl := time.Duration(viper.GetInt("auth.token_ttl_seconds")) * time.Second
		tokens = auth.NewTokenIssuer(adminSecret, baseURL, ttl)
	} else {
		logger.Warn("no admin secret configured — upload and append endpoints are open")
	}

	// ── Handlers ─────────────────────────────────────────────────────────────
	ledgerHandler := handler.NewLedgerHandler(store, verifier, files, anchors, logger)
	ledgerHandler.SetTokenIssuer(tokens)
	papersHandler := handler.NewPapersHandler(archive, logger)
	papersHandler.SetTokenIssuer(tokens)
	filesHandler := handler.NewFilesHandler(files, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Next()
	})

	// Request body size limit; covers file uploads.
	maxBytes := viper.GetInt64("server.max_upload_bytes")
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	})

	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}

	router.Use(requestLogger(logger))
	router.Use(handler.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())
	filesHandler.Register(router)

	v1 := router.Group("/api/v1")
	ledgerHandler.Register(v1)
	papersHandler.Register(v1)
	if tokens != nil {
		handler.NewAuthHandler(tokens, adminSecret, logger).Register(v1)
	}

	// ── Serve ────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("paperledger HTTP listening", zap.Int("port", httpPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Background integrity sweeps over every chain.
	auditor := audit.New(store, verifier, audit.Config{
		SweepInterval: time.Duration(viper.GetInt("audit.sweep_interval_seconds")) * time.Second,
		AlertAfter:    viper.GetInt("audit.alert_after"),
	}, logger)
	auditor.SetMetricsRecord(handler.RecordAuditSweep)
	auditStop := make(chan os.Signal)
	go auditor.Start(auditStop)

	<-quit
	close(auditStop)
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
