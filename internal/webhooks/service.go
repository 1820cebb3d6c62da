// Package webhooks notifies external receivers about chain events with
// HMAC-signed JSON POSTs.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/StarRegistry/internal/starledger"
	"go.uber.org/zap"
)

// Headers set on every delivery.
const (
	SignatureHeader = "X-Star-Signature"
	EventHeader     = "X-Star-Event"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Service dispatches events to the configured subscriptions.
type Service struct {
	subs       []Subscription
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewService creates a new webhook Service.
func NewService(subs []Subscription, logger *zap.Logger) *Service {
	return &Service{
		subs:       subs,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Three attempts, backing off 1s then 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// Dispatch fans out an event to all matching subscriptions. Deliveries run in
// the background; Wait blocks until they finish.
func (s *Service) Dispatch(ctx context.Context, eventType string, payload map[string]any) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("webhook: marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}

	for _, sub := range s.subs {
		if !sub.Wants(eventType) {
			continue
		}
		s.wg.Add(1)
		go func(sub Subscription) {
			defer s.wg.Done()
			s.deliver(ctx, sub, eventType, body)
		}(sub)
	}
}

// BlockAppended dispatches EventBlockAppended. It matches the signature of
// starledger.WithAppendHook.
func (s *Service) BlockAppended(b *starledger.Block) {
	s.Dispatch(context.Background(), EventBlockAppended, map[string]any{
		"hash":              b.Hash,
		"height":            b.Height,
		"previousBlockHash": b.PreviousBlockHash,
		"time":              b.Time,
	})
}

// Wait blocks until every in-flight delivery has finished or given up.
func (s *Service) Wait() {
	s.wg.Wait()
}

// deliver sends the event to a single subscription with retries.
func (s *Service) deliver(ctx context.Context, sub Subscription, eventType string, body []byte) {
	signature := signPayload(body, sub.Secret)

	for i, delay := range s.delays {
		attempt := i + 1
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		success, errMsg := s.doDelivery(ctx, sub.URL, eventType, body, signature)
		if s.onMetrics != nil {
			s.onMetrics(success)
		}
		if success {
			return
		}

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.String("event", eventType),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (s *Service) doDelivery(ctx context.Context, url, eventType string, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventType)
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// signPayload computes an HMAC-SHA256 signature, or "" without a secret.
func signPayload(body []byte, secret string) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
