// Package health runs a periodic integrity audit of the star chain and
// reports whether the registry should be considered healthy.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/jmerrifield20/StarRegistry/internal/starledger"
	"go.uber.org/zap"
)

// Status values reported by Checker.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds audit configuration.
type Config struct {
	CheckInterval time.Duration
	FailThreshold int
}

// Validator is the part of starledger.Ledger the checker needs.
type Validator interface {
	Validate(ctx context.Context) []starledger.ValidationError
	Height(ctx context.Context) int
}

// WebhookDispatchFunc is an optional callback for dispatching chain-degraded events.
type WebhookDispatchFunc func(ctx context.Context, eventType string, payload map[string]any)

// MetricsRecordFunc is an optional callback receiving the number of findings
// of each audit.
type MetricsRecordFunc func(findings int)

// Report is the outcome of the most recent audit.
type Report struct {
	Status    string                       `json:"status"`
	Height    int                          `json:"height"`
	Findings  []starledger.ValidationError `json:"findings,omitempty"`
	CheckedAt time.Time                    `json:"checked_at"`
	Failures  int                          `json:"consecutive_failures"`
}

// Checker audits a ledger on a fixed interval. A chain is reported degraded
// once FailThreshold consecutive audits have found problems, and healthy
// again after the first clean audit.
type Checker struct {
	ledger    Validator
	cfg       Config
	onWebhook WebhookDispatchFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu       sync.RWMutex
	last     Report
	failures int
}

// New creates a new Checker.
func New(ledger Validator, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 1
	}
	return &Checker{
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		last:   Report{Status: StatusHealthy},
	}
}

// SetWebhookDispatch configures the webhook dispatch callback.
func (h *Checker) SetWebhookDispatch(fn WebhookDispatchFunc) {
	h.onWebhook = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the audit loop until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckOnce validates the whole chain and updates the current report.
func (h *Checker) CheckOnce(ctx context.Context) Report {
	findings := h.ledger.Validate(ctx)
	height := h.ledger.Height(ctx)

	if h.onMetrics != nil {
		h.onMetrics(len(findings))
	}

	h.mu.Lock()
	prev := h.last.Status
	if len(findings) == 0 {
		h.failures = 0
	} else {
		h.failures++
	}

	status := prev
	switch {
	case h.failures == 0:
		status = StatusHealthy
	case h.failures >= h.cfg.FailThreshold:
		status = StatusDegraded
	}
	h.last = Report{
		Status:    status,
		Height:    height,
		Findings:  findings,
		CheckedAt: time.Now().UTC(),
		Failures:  h.failures,
	}
	report := h.last
	h.mu.Unlock()

	switch {
	case prev != StatusDegraded && status == StatusDegraded:
		h.logger.Error("health: chain degraded",
			zap.Int("height", height),
			zap.Int("findings", len(findings)),
			zap.Int("consecutive_failures", report.Failures),
		)
		if h.onWebhook != nil {
			h.onWebhook(ctx, "chain.degraded", map[string]any{
				"height":   height,
				"findings": findings,
			})
		}
	case prev == StatusDegraded && status == StatusHealthy:
		h.logger.Info("health: chain recovered", zap.Int("height", height))
	}
	return report
}

// Report returns the outcome of the most recent audit.
func (h *Checker) Report() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}
