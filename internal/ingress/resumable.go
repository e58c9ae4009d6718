// Package ingress implements the upload ingress (C4): a resumable,
// chunked, resume-by-offset path and a one-shot direct multipart path,
// both funneling into a single "upload finished" event that publishes a
// job. The resumable protocol handler here implements the minimal subset
// of TUS's offset-based semantics the core actually needs (create, patch,
// head); a full protocol implementation is an external concern.
package ingress

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/0necontroller/vellum-stream/internal/queue"
	"github.com/0necontroller/vellum-stream/internal/store"
	"github.com/0necontroller/vellum-stream/internal/validator"
)

// Resumable serves the two hooks the resumable protocol calls: on create
// (a session must already exist and be uploading) and on finish (publish
// the job). It also serves the minimal HTTP surface for chunked PATCH
// uploads keyed by uploadId.
type Resumable struct {
	store     *store.Store
	validator *validator.Validator
	producer  *queue.Producer
	uploadDir string
	logger    *zap.Logger
}

func NewResumable(st *store.Store, v *validator.Validator, producer *queue.Producer, uploadDir string, logger *zap.Logger) *Resumable {
	return &Resumable{store: st, validator: v, producer: producer, uploadDir: uploadDir, logger: logger}
}

// onCreate is called before any bytes are accepted for id. isCreate marks
// the true TUS creation call (a POST establishing Upload-Length), the
// point at which C2 must be re-run against the client-declared size to
// defend against a client that lied at session-creation time.
func (r *Resumable) onCreate(ctx context.Context, id string, isCreate bool, declaredLength int64) (*store.VideoRecord, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.StatusUploading {
		return nil, fmt.Errorf("ingress: record %s is not accepting uploads (status=%s)", id, rec.Status)
	}
	if isCreate {
		result := r.validator.Validate(validator.Input{
			Filename:   rec.Filename,
			FileSize:   declaredLength,
			UploadType: store.UploadTypeResumable,
		})
		if !result.OK() {
			return nil, fmt.Errorf("ingress: validation failed: %s", result.String())
		}
	}
	return rec, nil
}

// onFinish is called once every byte has arrived for id.
func (r *Resumable) onFinish(ctx context.Context, rec *store.VideoRecord, filePath string) error {
	if _, err := r.store.Update(ctx, rec.ID, store.Patch{Progress: store.IntPtr(0)}); err != nil {
		return fmt.Errorf("ingress: reset progress: %w", err)
	}

	job := queue.Job{
		UploadID:   rec.ID,
		FilePath:   filePath,
		Filename:   rec.Filename,
		Packager:   rec.Packager,
		UploadToS3: rec.UploadToS3,
	}
	if rec.CallbackURL != nil {
		job.CallbackURL = *rec.CallbackURL
	}
	if rec.S3Path != nil {
		job.S3Path = *rec.S3Path
	}
	return r.producer.Publish(ctx, job)
}

func (r *Resumable) path(id string) string {
	return filepath.Join(r.uploadDir, id)
}

// RegisterRoutes mounts the resumable endpoints. They are exempt from the
// bearer-auth gate because onCreate already requires the session to exist
// and be in the uploading state before any bytes are written. The HEAD
// route does not consult the record; it only reports the current offset.
func (r *Resumable) RegisterRoutes(router *mux.Router) {
	sub := router.PathPrefix("/api/v1/tus/files").Subrouter()
	sub.HandleFunc("/{id}", r.handleCreateOrPatch).Methods(http.MethodPost, http.MethodPatch)
	sub.HandleFunc("/{id}", r.handleHead).Methods(http.MethodHead)
}

func (r *Resumable) handleCreateOrPatch(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	ctx := req.Context()

	uploadLength, _ := strconv.ParseInt(req.Header.Get("Upload-Length"), 10, 64)
	isCreate := req.Method == http.MethodPost

	rec, err := r.onCreate(ctx, id, isCreate, uploadLength)
	if err != nil {
		if isCreate {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			http.Error(w, err.Error(), http.StatusNotFound)
		}
		return
	}

	offset, err := currentOffset(r.path(id))
	if err != nil {
		http.Error(w, "failed to read current offset", http.StatusInternalServerError)
		return
	}

	claimedOffset, _ := strconv.ParseInt(req.Header.Get("Upload-Offset"), 10, 64)
	if req.Method == http.MethodPatch && claimedOffset != offset {
		http.Error(w, "offset mismatch", http.StatusConflict)
		return
	}

	f, err := os.OpenFile(r.path(id), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		http.Error(w, "failed to open upload file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		http.Error(w, "failed to seek", http.StatusInternalServerError)
		return
	}
	written, err := f.ReadFrom(req.Body)
	if err != nil {
		http.Error(w, "failed to write chunk", http.StatusInternalServerError)
		return
	}

	newOffset := offset + written
	w.Header().Set("Upload-Offset", strconv.FormatInt(newOffset, 10))

	if uploadLength > 0 && newOffset >= uploadLength {
		if err := r.onFinish(ctx, rec, r.path(id)); err != nil {
			r.logger.Error("ingress: finish hook failed", zap.String("uploadId", id), zap.Error(err))
			http.Error(w, "failed to finalize upload", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (r *Resumable) handleHead(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	offset, err := currentOffset(r.path(id))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Upload-Offset", strconv.FormatInt(offset, 10))
	w.WriteHeader(http.StatusOK)
}

func currentOffset(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
