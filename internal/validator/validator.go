// Package validator implements the upload validator (C2): filename, MIME,
// and size policy checks run both at session creation and again when bytes
// actually arrive.
package validator

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/0necontroller/vellum-stream/internal/config"
	"github.com/0necontroller/vellum-stream/internal/store"
)

// FieldError is one rejected field, e.g. {"filesize", "exceeds 200MB limit"}.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Result carries every validation failure found, if any.
type Result struct {
	Errors []FieldError
}

func (r Result) OK() bool { return len(r.Errors) == 0 }

// String joins every field error into one human-readable line, the shape
// the HTTP surface returns to the client.
func (r Result) String() string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

// mimeAliases normalizes a handful of synonyms producers commonly send.
var mimeAliases = map[string]string{
	"application/mp4": "video/mp4",
	"video/mpeg4":     "video/mp4",
	"video/x-quicktime": "video/quicktime",
}

// Input is everything the validator needs to know about a candidate upload.
type Input struct {
	Filename   string
	FileSize   int64
	UploadType store.UploadType
}

// Validator enforces the upload policy loaded from configuration.
type Validator struct {
	policy config.UploadPolicy
}

func New(policy config.UploadPolicy) *Validator {
	return &Validator{policy: policy}
}

// Validate runs every check and returns the accumulated result. It never
// short-circuits on the first failure, so a client sees every problem at once.
func (v *Validator) Validate(in Input) Result {
	var errs []FieldError

	if strings.TrimSpace(in.Filename) == "" {
		errs = append(errs, FieldError{"filename", "must not be empty"})
	}

	mimeType, ok := deriveMime(in.Filename)
	if !ok {
		errs = append(errs, FieldError{"filename", "no derivable content type"})
	} else if !v.allowed(mimeType) {
		errs = append(errs, FieldError{"filename", fmt.Sprintf("content type %s is not allowed", mimeType)})
	}

	if in.FileSize <= 0 {
		errs = append(errs, FieldError{"filesize", "must be a positive integer"})
	}

	switch in.UploadType {
	case store.UploadTypeDirect:
		if in.FileSize > v.policy.MaxDirectBytes {
			errs = append(errs, FieldError{"filesize", "exceeds 200MB limit for direct uploads"})
		}
	default: // resumable
		if in.FileSize > v.policy.MaxResumableBytes {
			errs = append(errs, FieldError{"filesize", fmt.Sprintf("exceeds %d byte limit for resumable uploads", v.policy.MaxResumableBytes)})
		}
	}

	return Result{Errors: errs}
}

func (v *Validator) allowed(mimeType string) bool {
	for _, m := range v.policy.AllowedMimeTypes {
		if strings.EqualFold(m, mimeType) {
			return true
		}
	}
	return false
}

func deriveMime(filename string) (string, bool) {
	ext := filepath.Ext(filename)
	if ext == "" {
		return "", false
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		t = fallbackByExt(ext)
	}
	if t == "" {
		return "", false
	}
	// mime.TypeByExtension may include a charset/params suffix; strip it.
	if idx := strings.Index(t, ";"); idx != -1 {
		t = t[:idx]
	}
	t = strings.TrimSpace(t)
	if alias, ok := mimeAliases[t]; ok {
		t = alias
	}
	return t, true
}

// fallbackByExt covers video extensions the host's mime.types table may not
// know about (mime.TypeByExtension is OS-dependent for less common types).
func fallbackByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	default:
		return ""
	}
}
