// Package cleanup is the cleanup component (C10): best-effort removal of
// everything a job left on local disk, run unconditionally once a job
// reaches a terminal state. No cleanup error may alter the job's outcome.
package cleanup

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

// Job removes uploadPath and workDir in parallel, logging but never
// failing on a missing file.
func Job(logger *zap.Logger, uploadID, uploadPath, workDir string) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		removeBestEffort(logger, uploadID, "uploaded file", uploadPath)
	}()
	go func() {
		defer wg.Done()
		removeBestEffort(logger, uploadID, "work directory", workDir)
	}()

	wg.Wait()
}

func removeBestEffort(logger *zap.Logger, uploadID, kind, path string) {
	if path == "" {
		return
	}
	// os.RemoveAll reports success for a missing path, so check first.
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		logger.Info("nothing to clean up", zap.String("uploadId", uploadID), zap.String("kind", kind), zap.String("path", path))
		return
	}
	err := os.RemoveAll(path)
	switch {
	case err == nil:
		logger.Debug("cleaned up", zap.String("uploadId", uploadID), zap.String("kind", kind), zap.String("path", path))
	case os.IsNotExist(err):
		logger.Info("nothing to clean up", zap.String("uploadId", uploadID), zap.String("kind", kind), zap.String("path", path))
	default:
		logger.Warn("cleanup failed, ignoring", zap.String("uploadId", uploadID), zap.String("kind", kind), zap.Error(err))
	}
}
