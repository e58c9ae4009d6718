package session

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/0necontroller/vellum-stream/internal/config"
	"github.com/0necontroller/vellum-stream/internal/store"
	"github.com/0necontroller/vellum-stream/internal/validator"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	v := validator.New(config.UploadPolicy{
		MaxResumableBytes: 100 * 1024 * 1024,
		MaxDirectBytes:    200 * 1024 * 1024,
		AllowedMimeTypes:  []string{"video/mp4"},
	})
	return New(st, v, "vellum-videos", "s3.example.com")
}

func TestCreateResumableSession(t *testing.T) {
	m := newTestManager(t)
	resp, err := m.Create(context.Background(), CreateRequest{
		Filename: "clip.mp4",
		FileSize: 1024,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if resp.UploadID == "" {
		t.Fatalf("expected a generated uploadId")
	}
	if !strings.Contains(resp.UploadURL, "/tus/files/") {
		t.Fatalf("expected resumable upload URL, got %s", resp.UploadURL)
	}
	if !strings.HasSuffix(resp.VideoURL, resp.UploadID+"/index.m3u8") {
		t.Fatalf("expected videoUrl to end with uploadId/index.m3u8, got %s", resp.VideoURL)
	}
	if resp.MP4URL != "" {
		t.Fatalf("expected no mp4Url when uploadToS3 is false")
	}
}

func TestCreateDirectSessionWithMP4URL(t *testing.T) {
	m := newTestManager(t)
	resp, err := m.Create(context.Background(), CreateRequest{
		Filename:   "clip.mp4",
		FileSize:   1024,
		UploadType: "direct",
		UploadToS3: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.Contains(resp.UploadURL, "/upload") {
		t.Fatalf("expected direct upload URL, got %s", resp.UploadURL)
	}
	if resp.MP4URL == "" {
		t.Fatalf("expected mp4Url when uploadToS3 is true")
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), CreateRequest{Filename: "", FileSize: 1024})
	if err == nil {
		t.Fatalf("expected validation error for empty filename")
	}
	if _, ok := err.(ErrInvalid); !ok {
		t.Fatalf("expected ErrInvalid, got %T: %v", err, err)
	}
}

func TestCreateRejectsBadS3Path(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), CreateRequest{
		Filename: "clip.mp4",
		FileSize: 1024,
		S3Path:   "../etc",
	})
	if err != ErrBadS3Path {
		t.Fatalf("expected ErrBadS3Path, got %v", err)
	}
}

func TestCreateHonorsCustomS3Path(t *testing.T) {
	m := newTestManager(t)
	resp, err := m.Create(context.Background(), CreateRequest{
		Filename: "clip.mp4",
		FileSize: 1024,
		S3Path:   "/v2/media/",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	want := "v2/media/" + resp.UploadID + "/index.m3u8"
	if !strings.HasSuffix(resp.VideoURL, want) {
		t.Fatalf("expected videoUrl to end with %s, got %s", want, resp.VideoURL)
	}
}
