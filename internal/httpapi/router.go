package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/0necontroller/vellum-stream/internal/ingress"
)

const pingTimeout = 3 * time.Second

// NewRouter builds the full HTTP surface: public health check, bearer-gated
// video API, and the resumable protocol's own unauthenticated routes.
func NewRouter(h *Handlers, resumable *ingress.Resumable, apiKey string) http.Handler {
	root := mux.NewRouter()

	root.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	resumable.RegisterRoutes(root)

	api := root.PathPrefix("/api/v1").Subrouter()
	api.Use(RequireAPIKey(apiKey))
	api.HandleFunc("/video/create", h.CreateVideo).Methods(http.MethodPost)
	api.HandleFunc("/video/{id}/upload", h.UploadVideo).Methods(http.MethodPost)
	api.HandleFunc("/video/{id}/status", h.VideoStatus).Methods(http.MethodGet)
	api.HandleFunc("/video/{id}/callback-status", h.CallbackStatus).Methods(http.MethodGet)
	api.HandleFunc("/videos", h.ListVideos).Methods(http.MethodGet)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodHead},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Upload-Offset", "Upload-Length"},
		ExposedHeaders: []string{"Upload-Offset"},
	})

	return corsHandler.Handler(root)
}

// NewServer wraps handler with the timeouts the teacher's HTTP services
// always set explicitly, rather than relying on a zero-value http.Server,
// which has no timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
