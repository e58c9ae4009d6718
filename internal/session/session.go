// Package session implements the session manager (C3): it mints a
// VideoRecord and computes the URLs the client will need before a single
// byte has been uploaded.
package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/0necontroller/vellum-stream/internal/store"
	"github.com/0necontroller/vellum-stream/internal/validator"
)

var s3PathPattern = regexp.MustCompile(`^[A-Za-z0-9/_-]+$`)

// CreateRequest is the client-supplied payload for /video/create.
type CreateRequest struct {
	Filename    string
	FileSize    int64
	CallbackURL string
	S3Path      string
	UploadToS3  bool
	UploadType  string
}

// CreateResponse is what the client needs to begin uploading.
type CreateResponse struct {
	UploadID  string
	UploadURL string
	VideoURL  string
	ExpiresIn int
	MP4URL    string
}

// ErrInvalid wraps a validator.Result so callers can render 400s.
type ErrInvalid struct {
	Result validator.Result
}

func (e ErrInvalid) Error() string { return e.Result.String() }

// ErrBadS3Path is returned when s3Path fails its character-class check.
var ErrBadS3Path = fmt.Errorf("s3Path must match [A-Za-z0-9/_-]+")

const sessionExpirySeconds = 3600

// Manager creates sessions and persists their initial record.
type Manager struct {
	store       *store.Store
	validator   *validator.Validator
	bucket      string
	endpoint    string
	tusBasePath string
	directPath  string
}

func New(st *store.Store, v *validator.Validator, bucket, endpoint string) *Manager {
	return &Manager{
		store:       st,
		validator:   v,
		bucket:      bucket,
		endpoint:    endpoint,
		tusBasePath: "/api/v1/tus/files",
		directPath:  "/api/v1/video",
	}
}

// Create validates req, mints a VideoRecord, and returns the URLs the
// client uses next.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	uploadType := store.UploadTypeResumable
	if strings.EqualFold(req.UploadType, "direct") {
		uploadType = store.UploadTypeDirect
	}

	result := m.validator.Validate(validator.Input{
		Filename:   req.Filename,
		FileSize:   req.FileSize,
		UploadType: uploadType,
	})
	if !result.OK() {
		return nil, ErrInvalid{Result: result}
	}

	trimmedPath := strings.Trim(req.S3Path, "/")
	if trimmedPath != "" && !s3PathPattern.MatchString(trimmedPath) {
		return nil, ErrBadS3Path
	}

	id := uuid.NewString()
	prefix := id
	if trimmedPath != "" {
		prefix = trimmedPath + "/" + id
	}

	rec := &store.VideoRecord{
		ID:                 id,
		Filename:           req.Filename,
		Status:             store.StatusUploading,
		Progress:           0,
		CreatedAt:          time.Now().UTC(),
		Packager:           "ffmpeg",
		CallbackStatus:     store.CallbackPending,
		CallbackRetryCount: 0,
		UploadToS3:         req.UploadToS3,
		UploadType:         uploadType,
	}
	if req.CallbackURL != "" {
		rec.CallbackURL = store.StringPtr(req.CallbackURL)
	}
	if trimmedPath != "" {
		rec.S3Path = store.StringPtr(trimmedPath)
	}

	if err := m.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("session: create record: %w", err)
	}

	resp := &CreateResponse{
		UploadID:  id,
		VideoURL:  fmt.Sprintf("%s.%s/%s/index.m3u8", m.bucket, m.endpoint, prefix),
		ExpiresIn: sessionExpirySeconds,
	}
	if uploadType == store.UploadTypeDirect {
		resp.UploadURL = fmt.Sprintf("%s/%s/upload", m.directPath, id)
	} else {
		resp.UploadURL = fmt.Sprintf("%s/%s", m.tusBasePath, id)
	}
	if req.UploadToS3 {
		resp.MP4URL = fmt.Sprintf("%s.%s/%s/video.mp4", m.bucket, m.endpoint, prefix)
	}
	return resp, nil
}
