package ingress

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/0necontroller/vellum-stream/internal/queue"
	"github.com/0necontroller/vellum-stream/internal/store"
	"github.com/0necontroller/vellum-stream/internal/validator"
)

// directMaxMemory bounds how much of a multipart body ParseMultipartForm
// buffers in memory before spilling to a temp file.
const directMaxMemory = 32 << 20

// Direct serves the one-shot multipart upload path.
type Direct struct {
	store     *store.Store
	validator *validator.Validator
	producer  *queue.Producer
	uploadDir string
	logger    *zap.Logger
}

func NewDirect(st *store.Store, v *validator.Validator, producer *queue.Producer, uploadDir string, logger *zap.Logger) *Direct {
	return &Direct{store: st, validator: v, producer: producer, uploadDir: uploadDir, logger: logger}
}

// Handle serves POST /api/v1/video/{id}/upload.
func (d *Direct) Handle(w http.ResponseWriter, req *http.Request, id string) {
	ctx := req.Context()

	rec, err := d.store.Get(ctx, id)
	if err != nil {
		http.Error(w, "unknown upload id", http.StatusNotFound)
		return
	}
	if rec.Status != store.StatusUploading {
		http.Error(w, fmt.Sprintf("upload %s is not accepting bytes (status=%s)", id, rec.Status), http.StatusConflict)
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, 200*1024*1024+1<<20) // policy ceiling plus slack for form overhead
	if err := req.ParseMultipartForm(directMaxMemory); err != nil {
		http.Error(w, "failed to parse multipart body: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := req.FormFile("file")
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer file.Close()

	result := d.validator.Validate(validator.Input{
		Filename:   header.Filename,
		FileSize:   header.Size,
		UploadType: store.UploadTypeDirect,
	})
	if !result.OK() {
		http.Error(w, result.String(), http.StatusBadRequest)
		return
	}

	destPath := filepath.Join(d.uploadDir, id)
	if err := d.writeToDisk(file, destPath); err != nil {
		os.Remove(destPath)
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}

	job := queue.Job{
		UploadID:   rec.ID,
		FilePath:   destPath,
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

	if _, err := d.store.Update(ctx, id, store.Patch{Progress: store.IntPtr(0)}); err != nil {
		d.logger.Error("direct: reset progress failed", zap.String("uploadId", id), zap.Error(err))
	}

	if err := d.producer.Publish(ctx, job); err != nil {
		os.Remove(destPath)
		http.Error(w, "failed to enqueue processing job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"uploadId": id,
		"filename": rec.Filename,
		"status":   string(store.StatusProcessing),
	})
}

func (d *Direct) writeToDisk(src io.Reader, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}
