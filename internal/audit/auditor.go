// Package audit runs periodic integrity sweeps over every resource chain
// in the ledger, flagging tampering that happened at rest — outside any
// request path — such as a row edited directly in the database.
package audit

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/terminal-archives/paperledger/internal/ledger"
)

// Config holds audit sweep configuration.
type Config struct {
	SweepInterval time.Duration
	AlertAfter    int // consecutive broken sweeps before the alert fires
}

// AlertFunc is an optional callback fired once when a chain has been
// broken for AlertAfter consecutive sweeps.
type AlertFunc func(ctx context.Context, resourceID string, result *ledger.VerificationResult)

// MetricsRecordFunc is an optional callback for recording sweep results.
type MetricsRecordFunc func(valid bool)

// Auditor re-verifies every chain on a fixed interval.
type Auditor struct {
	store    ledger.Store
	verifier *ledger.Verifier

	mu           sync.Mutex
	brokenSweeps map[string]int

	cfg       Config
	onAlert   AlertFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates an Auditor over the given store and verifier.
func New(store ledger.Store, verifier *ledger.Verifier, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	if cfg.AlertAfter == 0 {
		cfg.AlertAfter = 1
	}

	return &Auditor{
		store:        store,
		verifier:     verifier,
		brokenSweeps: make(map[string]int),
		cfg:          cfg,
		logger:       logger,
	}
}

// SetAlert configures the alert callback.
func (a *Auditor) SetAlert(fn AlertFunc) {
	a.onAlert = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (a *Auditor) SetMetricsRecord(fn MetricsRecordFunc) {
	a.onMetrics = fn
}

// Start runs the sweep loop until quit is signalled.
func (a *Auditor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SweepInterval-time.Second)
			a.SweepAll(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// SweepAll verifies all known resource chains with bounded concurrency.
func (a *Auditor) SweepAll(ctx context.Context) {
	resources, err := a.store.Resources(ctx)
	if err != nil {
		a.logger.Error("audit: list resources", zap.Error(err))
		return
	}

	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, resourceID := range resources {
		wg.Add(1)
		go func(resourceID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := a.verifier.VerifyChain(ctx, resourceID)
			if err != nil {
				a.logger.Error("audit: verify chain",
					zap.String("resource_id", resourceID),
					zap.Error(err),
				)
				return
			}

			if a.onMetrics != nil {
				a.onMetrics(result.Valid)
			}

			a.mu.Lock()
			prevCount := a.brokenSweeps[resourceID]
			if result.Valid {
				a.brokenSweeps[resourceID] = 0
			} else {
				a.brokenSweeps[resourceID]++
			}
			count := a.brokenSweeps[resourceID]
			a.mu.Unlock()

			if result.Valid && prevCount >= a.cfg.AlertAfter {
				// A previously broken chain verifies again, e.g. after a
				// restore from backup.
				a.logger.Info("audit: chain restored", zap.String("resource_id", resourceID))
			} else if !result.Valid {
				a.logger.Warn("audit: chain broken",
					zap.String("resource_id", resourceID),
					zap.String("broken_at", result.BrokenAt),
					zap.String("reason", string(result.Reason)),
					zap.Int("consecutive_sweeps", count),
				)
				// Alert exactly at the threshold so repeated sweeps over the
				// same broken chain do not re-fire.
				if count == a.cfg.AlertAfter && a.onAlert != nil {
					a.onAlert(ctx, resourceID, result)
				}
			}
		}(resourceID)
	}

	wg.Wait()
}
