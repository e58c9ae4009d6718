// Package webhook is the webhook dispatcher (C9): an at-least-once callback
// POST with a bounded retry budget, plus a periodic sweeper that drives
// retries for records the inline attempt did not resolve.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/0necontroller/vellum-stream/internal/store"
)

// Payload is the body POSTed to callbackUrl.
type Payload struct {
	VideoID      string `json:"videoId"`
	Filename     string `json:"filename"`
	Status       string `json:"status"`
	StreamURL    string `json:"streamUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	MP4URL       string `json:"mp4Url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Dispatcher sends webhook attempts and records their outcome.
type Dispatcher struct {
	store       *store.Store
	client      *http.Client
	maxAttempts int
	logger      *zap.Logger
}

func New(st *store.Store, maxAttempts int, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:       st,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Attempt sends one callback attempt for rec and applies the outcome rules:
// HTTP 200 is terminal success, anything else increments the retry count
// and, once the budget is exhausted, marks the callback failed for good.
func (d *Dispatcher) Attempt(ctx context.Context, rec *store.VideoRecord, payload Payload) error {
	if rec.CallbackURL == nil {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *rec.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return d.recordFailedAttempt(ctx, rec, fmt.Errorf("webhook: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return d.recordFailedAttempt(ctx, rec, fmt.Errorf("webhook: post: %w", err))
	}
	defer resp.Body.Close()

	now := time.Now().UTC()
	if resp.StatusCode == http.StatusOK {
		_, err := d.store.Update(ctx, rec.ID, store.Patch{
			CallbackStatus:      ccStatus(store.CallbackCompleted),
			CallbackLastAttempt: &now,
		})
		if err != nil {
			return fmt.Errorf("webhook: record success: %w", err)
		}
		d.logger.Info("webhook delivered", zap.String("uploadId", rec.ID))
		return nil
	}

	return d.recordFailedAttempt(ctx, rec, fmt.Errorf("webhook: unexpected status %d", resp.StatusCode))
}

func (d *Dispatcher) recordFailedAttempt(ctx context.Context, rec *store.VideoRecord, cause error) error {
	now := time.Now().UTC()
	retryCount := rec.CallbackRetryCount + 1
	status := store.CallbackPending
	if retryCount >= d.maxAttempts {
		status = store.CallbackFailed
	}

	_, err := d.store.Update(ctx, rec.ID, store.Patch{
		CallbackStatus:      ccStatus(status),
		CallbackRetryCount:  store.IntPtr(retryCount),
		CallbackLastAttempt: &now,
	})
	if err != nil {
		return fmt.Errorf("webhook: record failure: %w", err)
	}
	d.logger.Warn("webhook attempt failed",
		zap.String("uploadId", rec.ID),
		zap.Int("retryCount", retryCount),
		zap.Error(cause))
	return cause
}

func ccStatus(s store.CallbackStatus) *store.CallbackStatus { return &s }

// PayloadForRecord builds the outcome-specific payload for rec.
func PayloadForRecord(rec *store.VideoRecord) Payload {
	p := Payload{VideoID: rec.ID, Filename: rec.Filename, Status: string(rec.Status)}
	if rec.StreamURL != nil {
		p.StreamURL = *rec.StreamURL
	}
	if rec.ThumbnailURL != nil {
		p.ThumbnailURL = *rec.ThumbnailURL
	}
	if rec.MP4URL != nil {
		p.MP4URL = *rec.MP4URL
	}
	if rec.Error != nil {
		p.Error = *rec.Error
	}
	return p
}

// Sweeper periodically retries pending callbacks the inline attempt did
// not resolve. It runs on its own goroutine, independent of job processing.
type Sweeper struct {
	dispatcher *Dispatcher
	store      *store.Store
	interval   time.Duration
	logger     *zap.Logger
}

func NewSweeper(d *Dispatcher, st *store.Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{dispatcher: d, store: st, interval: interval, logger: logger}
}

// Run blocks, sweeping on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	pending, err := s.store.ListPendingCallbacks(ctx, s.dispatcher.maxAttempts)
	if err != nil {
		s.logger.Error("sweep: list pending callbacks", zap.Error(err))
		return
	}
	for _, rec := range pending {
		if err := s.dispatcher.Attempt(ctx, rec, PayloadForRecord(rec)); err != nil {
			s.logger.Warn("sweep: attempt failed", zap.String("uploadId", rec.ID), zap.Error(err))
		}
	}
}
