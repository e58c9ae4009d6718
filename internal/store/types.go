package store

import "time"

// Status is the video record's processing state.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CallbackStatus is the webhook dispatcher's outcome for a record.
type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "pending"
	CallbackCompleted CallbackStatus = "completed"
	CallbackFailed    CallbackStatus = "failed"
)

// UploadType routes ingress to the resumable or direct handler.
type UploadType string

const (
	UploadTypeResumable UploadType = "resumable"
	UploadTypeDirect    UploadType = "direct"
)

// MaxCallbackAttempts bounds callback retry count (spec policy).
const MaxCallbackAttempts = 4

// VideoRecord is the sole persistent entity, keyed by ID.
type VideoRecord struct {
	ID                 string         `json:"id"`
	Filename           string         `json:"filename"`
	Status             Status         `json:"status"`
	Progress           int            `json:"progress"`
	StreamURL          *string        `json:"streamUrl,omitempty"`
	ThumbnailURL       *string        `json:"thumbnailUrl,omitempty"`
	MP4URL             *string        `json:"mp4Url,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
	Error              *string        `json:"error,omitempty"`
	Packager           string         `json:"packager"`
	CallbackURL        *string        `json:"callbackUrl,omitempty"`
	CallbackStatus     CallbackStatus `json:"callbackStatus"`
	CallbackRetryCount int            `json:"callbackRetryCount"`
	CallbackLastAttempt *time.Time    `json:"callbackLastAttempt,omitempty"`
	S3Path             *string        `json:"s3Path,omitempty"`
	UploadToS3         bool           `json:"uploadToS3"`
	UploadType         UploadType     `json:"uploadType"`
}

// Patch describes a partial update to a VideoRecord. Nil fields are left
// unchanged; use the pointer wrapper helpers below to set a field to its
// zero value on purpose.
type Patch struct {
	Status              *Status
	Progress            *int
	StreamURL           *string
	ThumbnailURL        *string
	MP4URL              *string
	Error               *string
	ClearError          bool
	CallbackStatus      *CallbackStatus
	CallbackRetryCount  *int
	CallbackLastAttempt *time.Time
}

func StringPtr(s string) *string { return &s }
func IntPtr(i int) *int          { return &i }
func TimePtr(t time.Time) *time.Time { return &t }
