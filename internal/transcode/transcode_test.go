package transcode

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0necontroller/vellum-stream/internal/probe"
)

// withStubRunner lets tests drive ffmpeg outcomes without a real binary.
func withStubRunner(t *testing.T, fn func(ctx context.Context, name string, args ...string) (string, error)) {
	t.Helper()
	original := commandRunner
	commandRunner = fn
	t.Cleanup(func() { commandRunner = original })
}

func writePlaylist(t *testing.T, workDir string) {
	t.Helper()
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "#EXTM3U\n#EXT-X-VERSION:3\n#EXTINF:3.0,\nseg0.ts\n#EXT-X-ENDLIST\n"
	if err := os.WriteFile(filepath.Join(workDir, PlaylistName), []byte(content), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}
}

func TestToHLSSucceedsOnFirstStrategy(t *testing.T) {
	workDir := t.TempDir()
	calls := 0
	withStubRunner(t, func(ctx context.Context, name string, args ...string) (string, error) {
		calls++
		writePlaylist(t, workDir)
		return "", nil
	})

	got, err := ToHLS(context.Background(), "/tmp/source.mp4", workDir, probe.StrategyCopy)
	if err != nil {
		t.Fatalf("ToHLS failed: %v", err)
	}
	if got != probe.StrategyCopy {
		t.Fatalf("expected strategy copy to be reported, got %s", got)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one ffmpeg invocation, got %d", calls)
	}
}

func TestToHLSFallsBackToReencodeOnFailure(t *testing.T) {
	workDir := t.TempDir()
	calls := 0
	withStubRunner(t, func(ctx context.Context, name string, args ...string) (string, error) {
		calls++
		if calls == 1 {
			return "unsupported codec", assertError{"copy failed"}
		}
		writePlaylist(t, workDir)
		return "", nil
	})

	got, err := ToHLS(context.Background(), "/tmp/source.mkv", workDir, probe.StrategyCopy)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got error: %v", err)
	}
	if got != probe.StrategyReencode {
		t.Fatalf("expected fallback strategy reencode, got %s", got)
	}
	if calls != 2 {
		t.Fatalf("expected two ffmpeg invocations (copy then reencode), got %d", calls)
	}
}

func TestToHLSFailsWhenReencodeAlsoFails(t *testing.T) {
	workDir := t.TempDir()
	withStubRunner(t, func(ctx context.Context, name string, args ...string) (string, error) {
		return "always broken", assertError{"nope"}
	})

	if _, err := ToHLS(context.Background(), "/tmp/source.mkv", workDir, probe.StrategySelective); err == nil {
		t.Fatalf("expected error when both strategies fail")
	}
}

func TestValidatePlaylistRequiresHeader(t *testing.T) {
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, PlaylistName), []byte("not a playlist"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidatePlaylist(workDir); err == nil {
		t.Fatalf("expected validation error for missing #EXTM3U header")
	}
}

func TestValidatePlaylistAcceptsWellFormed(t *testing.T) {
	workDir := t.TempDir()
	writePlaylist(t, workDir)
	if err := ValidatePlaylist(workDir); err != nil {
		t.Fatalf("expected valid playlist, got: %v", err)
	}
}

func TestWriteMetadataRoundTrips(t *testing.T) {
	workDir := t.TempDir()
	m := Metadata{
		Name:                "clip.mp4",
		Packager:            "ffmpeg",
		CreatedAt:           time.Now().UTC(),
		TranscodingStrategy: string(probe.StrategyCopy),
		HLSCompatible:       true,
	}
	if err := WriteMetadata(workDir, m); err != nil {
		t.Fatalf("WriteMetadata failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(workDir, "metadata.json"))
	if err != nil {
		t.Fatalf("read metadata.json: %v", err)
	}
	var decoded Metadata
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal metadata.json: %v", err)
	}
	if decoded.Name != m.Name || decoded.TranscodingStrategy != m.TranscodingStrategy {
		t.Fatalf("metadata round-trip mismatch: %+v", decoded)
	}
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
