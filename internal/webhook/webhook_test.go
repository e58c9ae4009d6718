package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/0necontroller/vellum-stream/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newCompletedRecord(t *testing.T, st *store.Store, id, callbackURL string) *store.VideoRecord {
	t.Helper()
	ctx := context.Background()
	rec := &store.VideoRecord{
		ID:             id,
		Filename:       "clip.mp4",
		Status:         store.StatusUploading,
		CreatedAt:      time.Now().UTC(),
		Packager:       "ffmpeg",
		CallbackStatus: store.CallbackPending,
		CallbackURL:    store.StringPtr(callbackURL),
		UploadType:     store.UploadTypeResumable,
	}
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	completed := store.StatusCompleted
	updated, err := st.Update(ctx, id, store.Patch{Status: &completed, StreamURL: store.StringPtr("https://bucket.example.com/" + id + "/index.m3u8")})
	if err != nil {
		t.Fatalf("update to completed: %v", err)
	}
	return updated
}

func TestAttemptSuccessMarksCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newTestStore(t)
	rec := newCompletedRecord(t, st, "vid-1", srv.URL)
	d := New(st, 4, zap.NewNop())

	if err := d.Attempt(context.Background(), rec, PayloadForRecord(rec)); err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}

	got, err := st.Get(context.Background(), "vid-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CallbackStatus != store.CallbackCompleted {
		t.Fatalf("expected callbackStatus completed, got %s", got.CallbackStatus)
	}
	if got.CallbackRetryCount != 0 {
		t.Fatalf("expected no retries on first success, got %d", got.CallbackRetryCount)
	}
}

func TestAttemptFailureIncrementsRetryCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := newTestStore(t)
	rec := newCompletedRecord(t, st, "vid-2", srv.URL)
	d := New(st, 4, zap.NewNop())

	if err := d.Attempt(context.Background(), rec, PayloadForRecord(rec)); err == nil {
		t.Fatalf("expected error for non-200 response")
	}

	got, err := st.Get(context.Background(), "vid-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CallbackStatus != store.CallbackPending {
		t.Fatalf("expected callbackStatus to remain pending under the retry budget, got %s", got.CallbackStatus)
	}
	if got.CallbackRetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", got.CallbackRetryCount)
	}
}

func TestAttemptExhaustsRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	st := newTestStore(t)
	_ = newCompletedRecord(t, st, "vid-3", srv.URL)
	d := New(st, 4, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		current, err := st.Get(ctx, "vid-3")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		_ = d.Attempt(ctx, current, PayloadForRecord(current))
	}

	got, err := st.Get(ctx, "vid-3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CallbackStatus != store.CallbackFailed {
		t.Fatalf("expected callbackStatus failed after exhausting retry budget, got %s", got.CallbackStatus)
	}
	if got.CallbackRetryCount != 4 {
		t.Fatalf("expected retry count capped at 4, got %d", got.CallbackRetryCount)
	}
}

func TestSweeperRetriesPendingCallbacks(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newTestStore(t)
	rec := newCompletedRecord(t, st, "vid-4", srv.URL)
	_, _ = rec, st

	d := New(st, 4, zap.NewNop())
	sweeper := NewSweeper(d, st, time.Hour, zap.NewNop())
	sweeper.sweepOnce(context.Background())

	if hits != 1 {
		t.Fatalf("expected sweeper to attempt exactly once, got %d hits", hits)
	}
	got, err := st.Get(context.Background(), "vid-4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CallbackStatus != store.CallbackCompleted {
		t.Fatalf("expected sweeper to mark callback completed, got %s", got.CallbackStatus)
	}
}
