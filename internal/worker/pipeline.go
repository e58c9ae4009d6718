// Package worker orchestrates one job end to end: probe, transcode,
// publish, notify, clean up. It is the only place C6 through C10 are wired
// together, driven by the atomic acquire guard in the store.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0necontroller/vellum-stream/internal/cleanup"
	"github.com/0necontroller/vellum-stream/internal/logging"
	"github.com/0necontroller/vellum-stream/internal/probe"
	"github.com/0necontroller/vellum-stream/internal/publish"
	"github.com/0necontroller/vellum-stream/internal/queue"
	"github.com/0necontroller/vellum-stream/internal/store"
	"github.com/0necontroller/vellum-stream/internal/transcode"
	"github.com/0necontroller/vellum-stream/internal/webhook"
)

// Pipeline wires C6-C10 into a single per-job handler.
type Pipeline struct {
	Store      *store.Store
	Publisher  *publish.Publisher
	Dispatcher *webhook.Dispatcher
	WorkBase   string
	Logger     *zap.Logger
}

// Handle is a queue.Handler: it claims the job via the atomic guard, acks
// the queue message the instant that claim succeeds, then drives the job
// to a terminal state. A lost race (someone else already owns or finished
// this job) is a silent no-op, not an error.
func (p *Pipeline) Handle(ctx context.Context, job queue.Job, ackNow func() error) error {
	logger := logging.ForUpload(p.Logger, job.UploadID)

	acquired, rec, err := p.Store.TryAcquireForProcessing(ctx, job.UploadID)
	if err != nil {
		return fmt.Errorf("worker: acquire: %w", err)
	}
	if err := ackNow(); err != nil {
		logger.Error("ack failed", zap.Error(err))
	}
	if !acquired {
		logger.Info("skipping job, already claimed or terminal", zap.String("status", string(rec.Status)))
		return nil
	}

	p.process(ctx, logger, rec, job)
	return nil
}

func (p *Pipeline) process(ctx context.Context, logger *zap.Logger, rec *store.VideoRecord, job queue.Job) {
	workDir := filepath.Join(p.WorkBase, job.UploadID)
	defer cleanup.Job(p.Logger, job.UploadID, job.FilePath, workDir)

	fail := func(cause error) {
		logger.Error("job failed", zap.Error(cause))
		msg := cause.Error()
		updated, err := p.Store.Update(ctx, job.UploadID, store.Patch{
			Status: statusPtr(store.StatusFailed),
			Error:  &msg,
		})
		if err != nil {
			logger.Error("could not record failure", zap.Error(err))
			return
		}
		if attErr := p.Dispatcher.Attempt(ctx, updated, webhook.PayloadForRecord(updated)); attErr != nil {
			logger.Warn("failure webhook attempt did not succeed", zap.Error(attErr))
		}
	}

	if _, err := p.Store.Update(ctx, job.UploadID, store.Patch{Progress: store.IntPtr(25), ClearError: true}); err != nil {
		fail(fmt.Errorf("worker: reset progress: %w", err))
		return
	}

	report, probeErr := probe.Probe(job.FilePath)
	if probeErr != nil {
		logger.Warn("probe failed, falling back to full re-encode", zap.Error(probeErr))
	}

	strategyUsed, err := transcode.ToHLS(ctx, job.FilePath, workDir, report.Strategy)
	if err != nil {
		fail(fmt.Errorf("worker: transcode: %w", err))
		return
	}
	if _, err := p.Store.Update(ctx, job.UploadID, store.Patch{Progress: store.IntPtr(60)}); err != nil {
		logger.Warn("progress update failed", zap.Error(err))
	}

	hasThumbnail := true
	if err := transcode.ExtractThumbnail(ctx, job.FilePath, workDir); err != nil {
		logger.Warn("thumbnail extraction failed, continuing without one", zap.Error(err))
		hasThumbnail = false
	}
	if _, err := p.Store.Update(ctx, job.UploadID, store.Patch{Progress: store.IntPtr(75)}); err != nil {
		logger.Warn("progress update failed", zap.Error(err))
	}

	if err := transcode.ValidatePlaylist(workDir); err != nil {
		fail(fmt.Errorf("worker: validate playlist: %w", err))
		return
	}

	var mp4Path string
	if job.UploadToS3 {
		mp4Path, err = transcode.EnsureMP4(ctx, job.FilePath, workDir, report.Container)
		if err != nil {
			logger.Warn("mp4 render failed, continuing without it", zap.Error(err))
			mp4Path = ""
		}
	}

	if current, err := p.Store.Get(ctx, job.UploadID); err == nil && current.Status == store.StatusCompleted {
		logger.Info("job already completed by another actor, short-circuiting")
		return
	}

	progressFloor := 80
	if strategyUsed == probe.StrategyCopy || strategyUsed == probe.StrategySelective {
		progressFloor = 85
	}
	if _, err := p.Store.Update(ctx, job.UploadID, store.Patch{Progress: store.IntPtr(progressFloor)}); err != nil {
		logger.Warn("progress update failed", zap.Error(err))
	}

	prefix := job.UploadID
	if job.S3Path != "" {
		prefix = strings.Trim(job.S3Path, "/") + "/" + job.UploadID
	}

	meta := transcode.Metadata{
		Name:                job.Filename,
		Packager:            job.Packager,
		CreatedAt:           time.Now().UTC(),
		Source:              filepath.Base(job.FilePath),
		HasThumbnail:        hasThumbnail,
		TranscodingStrategy: string(strategyUsed),
		SourceCodecs: transcode.SourceCodecs{
			Video:   report.VideoCodec,
			Audio:   report.AudioCodec,
			Profile: report.VideoProfile,
		},
		HLSCompatible: report.IsHLSCompatible(),
	}
	if err := transcode.WriteMetadata(workDir, meta); err != nil {
		logger.Warn("writing metadata.json failed, continuing", zap.Error(err))
	}

	onProgress := func(done, total int) {
		span := 95 - progressFloor
		pct := progressFloor
		if total > 0 {
			pct = progressFloor + done*span/total
		}
		if pct > 95 {
			pct = 95
		}
		if _, err := p.Store.Update(ctx, job.UploadID, store.Patch{Progress: store.IntPtr(pct)}); err != nil {
			logger.Warn("progress update failed", zap.Error(err))
		}
	}

	if err := p.Publisher.PublishTree(ctx, workDir, prefix, onProgress); err != nil {
		fail(fmt.Errorf("worker: publish: %w", err))
		return
	}

	streamURL := p.Publisher.PublicURL(prefix, transcode.PlaylistName)
	patch := store.Patch{
		Status:    statusPtr(store.StatusCompleted),
		Progress:  store.IntPtr(100),
		StreamURL: &streamURL,
	}
	if hasThumbnail {
		if _, statErr := os.Stat(filepath.Join(workDir, transcode.ThumbnailName)); statErr == nil {
			thumbURL := p.Publisher.PublicURL(prefix, transcode.ThumbnailName)
			patch.ThumbnailURL = &thumbURL
		}
	}
	if mp4Path != "" {
		mp4URL := p.Publisher.PublicURL(prefix, transcode.MP4Name)
		patch.MP4URL = &mp4URL
	}

	updated, err := p.Store.Update(ctx, job.UploadID, patch)
	if err != nil {
		logger.Error("could not record completion", zap.Error(err))
		return
	}

	logger.Info("job completed", zap.String("streamUrl", streamURL))
	if err := p.Dispatcher.Attempt(ctx, updated, webhook.PayloadForRecord(updated)); err != nil {
		logger.Warn("completion webhook attempt did not succeed", zap.Error(err))
	}
}

func statusPtr(s store.Status) *store.Status { return &s }
