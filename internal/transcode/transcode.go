// Package transcode is the transcoder (C7): it drives ffmpeg directly as a
// subprocess, using argument-vector invocation (never a shell string) so a
// source path containing spaces or shell metacharacters can never corrupt
// the command line.
package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/0necontroller/vellum-stream/internal/probe"
)

// SourceCodecs nests the probed source's codec identity, matching the
// artifact contract consumers outside the core parse from metadata.json.
type SourceCodecs struct {
	Video   string `json:"video"`
	Audio   string `json:"audio"`
	Profile string `json:"profile"`
}

// Metadata is written alongside the published HLS output.
type Metadata struct {
	Name                string       `json:"name"`
	Packager            string       `json:"packager"`
	CreatedAt           time.Time    `json:"createdAt"`
	Source              string       `json:"source"`
	HasThumbnail        bool         `json:"hasThumbnail"`
	TranscodingStrategy string       `json:"transcodingStrategy"`
	SourceCodecs        SourceCodecs `json:"sourceCodecs"`
	HLSCompatible       bool         `json:"hlsCompatible"`
}

// PlaylistName and ThumbnailName are the fixed artifact names the publisher
// and session manager both assume.
const (
	PlaylistName  = "index.m3u8"
	ThumbnailName = "thumbnail.jpg"
	MP4Name       = "video.mp4"
)

// commandRunner is swappable in tests so they don't need a real ffmpeg
// binary on PATH.
var commandRunner = runCommand

// ToHLS runs ffmpeg against sourcePath, writing an HLS playlist and its
// segments into workDir, using the codec strategy the prober recommended.
// On failure of a copy/selective strategy it falls back once to a full
// re-encode before giving up, matching the recovery rule for transcoding
// errors.
func ToHLS(ctx context.Context, sourcePath, workDir string, strategy probe.Strategy) (probe.Strategy, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return strategy, fmt.Errorf("transcode: mkdir workdir: %w", err)
	}

	if err := runHLS(ctx, sourcePath, workDir, strategy); err != nil {
		if strategy == probe.StrategyReencode {
			return strategy, fmt.Errorf("transcode: reencode failed: %w", err)
		}
		if fallbackErr := runHLS(ctx, sourcePath, workDir, probe.StrategyReencode); fallbackErr != nil {
			return probe.StrategyReencode, fmt.Errorf("transcode: fallback reencode failed after %s failed (%v): %w", strategy, err, fallbackErr)
		}
		return probe.StrategyReencode, nil
	}
	return strategy, nil
}

func runHLS(ctx context.Context, sourcePath, workDir string, strategy probe.Strategy) error {
	playlist := filepath.Join(workDir, PlaylistName)
	args := []string{"-y", "-i", sourcePath}
	args = append(args, codecArgsForStrategy(strategy)...)
	args = append(args, "-start_number", "0", "-hls_time", "3", "-hls_list_size", "0", "-f", "hls", playlist)

	out, err := commandRunner(ctx, "ffmpeg", args...)
	if err != nil {
		return fmt.Errorf("ffmpeg hls (%s): %w: %s", strategy, err, out)
	}
	if _, statErr := os.Stat(playlist); statErr != nil {
		return fmt.Errorf("ffmpeg reported success but %s is missing: %w", PlaylistName, statErr)
	}
	return nil
}

func codecArgsForStrategy(strategy probe.Strategy) []string {
	switch strategy {
	case probe.StrategyCopy:
		return []string{"-c", "copy"}
	case probe.StrategySelective:
		return []string{"-c:v", "copy", "-c:a", "aac", "-b:a", "128k"}
	default: // reencode
		return []string{"-c:v", "libx264", "-preset", "medium", "-crf", "23", "-c:a", "aac", "-b:a", "128k"}
	}
}

// ExtractThumbnail grabs a single frame at 00:00:01.000 into workDir.
func ExtractThumbnail(ctx context.Context, sourcePath, workDir string) error {
	out, err := commandRunner(ctx, "ffmpeg", "-y", "-ss", "00:00:01.000", "-i", sourcePath,
		"-vframes", "1", "-vf", "scale=480:-1", "-q:v", "2",
		filepath.Join(workDir, ThumbnailName))
	if err != nil {
		return fmt.Errorf("ffmpeg thumbnail: %w: %s", err, out)
	}
	return nil
}

// EnsureMP4 makes sure an MP4 render exists in workDir for uploadToS3 jobs.
// If the source container is already MP4, it is copied in directly rather
// than re-encoded.
func EnsureMP4(ctx context.Context, sourcePath, workDir, container string) (string, error) {
	dest := filepath.Join(workDir, MP4Name)
	if strings.Contains(strings.ToLower(container), "mp4") {
		if err := copyFile(sourcePath, dest); err == nil {
			return dest, nil
		}
		// fall through to a real transcode if the plain copy failed
	}

	out, err := commandRunner(ctx, "ffmpeg", "-y", "-i", sourcePath,
		"-c:v", "libx264", "-c:a", "aac", "-preset", "fast", "-crf", "23",
		"-movflags", "+faststart", "-f", "mp4", dest)
	if err != nil {
		return "", fmt.Errorf("ffmpeg mp4: %w: %s", err, out)
	}
	return dest, nil
}

// ValidatePlaylist confirms the playlist exists and looks like HLS.
func ValidatePlaylist(workDir string) error {
	path := filepath.Join(workDir, PlaylistName)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("transcode: read playlist: %w", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(data)), "#EXTM3U") {
		return fmt.Errorf("transcode: %s missing #EXTM3U header", PlaylistName)
	}
	return nil
}

// WriteMetadata serializes m as workDir/metadata.json.
func WriteMetadata(workDir string, m Metadata) error {
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("transcode: marshal metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(workDir, "metadata.json"), body, 0o644)
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String() + stderr.String(), err
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
