package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestRecord(id string) *VideoRecord {
	return &VideoRecord{
		ID:             id,
		Filename:       "clip.mp4",
		Status:         StatusUploading,
		Progress:       0,
		CreatedAt:      time.Now().UTC(),
		Packager:       "ffmpeg",
		CallbackStatus: CallbackPending,
		UploadType:     UploadTypeResumable,
	}
}

func TestCreateAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord("vid-1")
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := st.Get(ctx, "vid-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Filename != "clip.mp4" || got.Status != StatusUploading {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateToCompletedSetsCompletedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	rec := newTestRecord("vid-2")
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	completed := StatusCompleted
	updated, err := st.Update(ctx, "vid-2", Patch{Status: &completed, Progress: IntPtr(100)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("expected status completed, got %s", updated.Status)
	}
	if updated.CompletedAt == nil {
		t.Fatalf("expected completedAt to be set")
	}
}

func TestTryAcquireForProcessingIsExclusive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	rec := newTestRecord("vid-3")
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	acquired1, cur1, err := st.TryAcquireForProcessing(ctx, "vid-3")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if !acquired1 {
		t.Fatalf("expected first acquire to succeed")
	}
	if cur1.Status != StatusProcessing || cur1.Progress != 10 {
		t.Fatalf("unexpected state after acquire: %+v", cur1)
	}

	// A duplicate delivery arriving after real progress was made must not
	// re-acquire and must not see progress reset.
	if _, err := st.Update(ctx, "vid-3", Patch{Progress: IntPtr(50)}); err != nil {
		t.Fatalf("progress update failed: %v", err)
	}
	acquired2, cur2, err := st.TryAcquireForProcessing(ctx, "vid-3")
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if acquired2 {
		t.Fatalf("expected second acquire to lose the race once progress exceeded 10")
	}
	if cur2.Progress != 50 {
		t.Fatalf("expected progress to remain 50 after a lost race, got %d", cur2.Progress)
	}
}

func TestTryAcquireForProcessingResumesEarlyCrash(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	rec := newTestRecord("vid-4")
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, _, err := st.TryAcquireForProcessing(ctx, "vid-4"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	// Simulate a crash before meaningful progress: progress stays at 10.
	acquired, _, err := st.TryAcquireForProcessing(ctx, "vid-4")
	if err != nil {
		t.Fatalf("resume acquire failed: %v", err)
	}
	if !acquired {
		t.Fatalf("expected a redelivery at progress<=10 to be safely resumable")
	}
}

func TestTryAcquireForProcessingResumesFromFailed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	rec := newTestRecord("vid-5")
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	failed := StatusFailed
	if _, err := st.Update(ctx, "vid-5", Patch{Status: &failed, Progress: IntPtr(90), Error: StringPtr("boom")}); err != nil {
		t.Fatalf("Update to failed: %v", err)
	}

	acquired, cur, err := st.TryAcquireForProcessing(ctx, "vid-5")
	if err != nil {
		t.Fatalf("acquire from failed: %v", err)
	}
	if !acquired {
		t.Fatalf("expected a failed record to be re-acquirable")
	}
	if cur.Status != StatusProcessing {
		t.Fatalf("expected status processing, got %s", cur.Status)
	}
}

func TestListPendingCallbacksFiltersCorrectly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	completedWithPendingCallback := newTestRecord("vid-6")
	completedWithPendingCallback.CallbackURL = StringPtr("https://example.com/hook")
	if err := st.Create(ctx, completedWithPendingCallback); err != nil {
		t.Fatalf("create: %v", err)
	}
	completedStatus := StatusCompleted
	if _, err := st.Update(ctx, "vid-6", Patch{Status: &completedStatus}); err != nil {
		t.Fatalf("update: %v", err)
	}

	stillUploading := newTestRecord("vid-7")
	stillUploading.CallbackURL = StringPtr("https://example.com/hook")
	if err := st.Create(ctx, stillUploading); err != nil {
		t.Fatalf("create: %v", err)
	}

	noCallback := newTestRecord("vid-8")
	if err := st.Create(ctx, noCallback); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.Update(ctx, "vid-8", Patch{Status: &completedStatus}); err != nil {
		t.Fatalf("update: %v", err)
	}

	pending, err := st.ListPendingCallbacks(ctx, MaxCallbackAttempts)
	if err != nil {
		t.Fatalf("ListPendingCallbacks: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "vid-6" {
		t.Fatalf("expected exactly vid-6 pending, got %+v", pending)
	}
}
