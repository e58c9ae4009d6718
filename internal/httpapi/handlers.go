package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/0necontroller/vellum-stream/internal/ingress"
	"github.com/0necontroller/vellum-stream/internal/session"
	"github.com/0necontroller/vellum-stream/internal/store"
)

// Handlers binds C1-C4's application logic to HTTP.
type Handlers struct {
	sessions *session.Manager
	store    *store.Store
	direct   *ingress.Direct
	logger   *zap.Logger
}

func NewHandlers(sessions *session.Manager, st *store.Store, direct *ingress.Direct, logger *zap.Logger) *Handlers {
	return &Handlers{sessions: sessions, store: st, direct: direct, logger: logger}
}

type createVideoRequest struct {
	Filename    string `json:"filename"`
	Filesize    int64  `json:"filesize"`
	Type        string `json:"type"`
	CallbackURL string `json:"callbackUrl"`
	S3Path      string `json:"s3Path"`
	UploadToS3  bool   `json:"uploadToS3"`
}

func (h *Handlers) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req createVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.sessions.Create(r.Context(), session.CreateRequest{
		Filename:    req.Filename,
		FileSize:    req.Filesize,
		CallbackURL: req.CallbackURL,
		S3Path:      req.S3Path,
		UploadToS3:  req.UploadToS3,
		UploadType:  req.Type,
	})
	if err != nil {
		var invalid session.ErrInvalid
		switch {
		case errors.As(err, &invalid):
			respondError(w, http.StatusBadRequest, invalid.Error())
		case errors.Is(err, session.ErrBadS3Path):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("create video session failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to create upload session")
		}
		return
	}

	data := map[string]interface{}{
		"uploadId":  resp.UploadID,
		"uploadUrl": resp.UploadURL,
		"videoUrl":  resp.VideoURL,
		"expiresIn": resp.ExpiresIn,
	}
	if resp.MP4URL != "" {
		data["mp4Url"] = resp.MP4URL
	}
	respondJSON(w, http.StatusCreated, data)
}

func (h *Handlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.direct.Handle(w, r, id)
}

func (h *Handlers) VideoStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown upload id")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *Handlers) CallbackStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown upload id")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"callbackUrl":         rec.CallbackURL,
		"callbackStatus":      rec.CallbackStatus,
		"callbackRetryCount":  rec.CallbackRetryCount,
		"callbackLastAttempt": rec.CallbackLastAttempt,
	})
}

func (h *Handlers) ListVideos(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	dbStatus := "ok"
	if err := h.store.Ping(ctx); err != nil {
		dbStatus = "unreachable"
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": dbStatus,
	})
}
