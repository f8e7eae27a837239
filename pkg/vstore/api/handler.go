// Package api exposes a vstore.Service over HTTP with chi.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-vstore/pkg/vstore"
)

// Handler serves sessions, uploads, previews, templates, objects and raw files.
type Handler struct {
	service    vstore.Service
	logger     *slog.Logger
	retryAfter time.Duration
	metrics    http.Handler
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithRetryAfter sets the Retry-After sent with 429 replies.
func WithRetryAfter(d time.Duration) Option {
	return func(h *Handler) { h.retryAfter = d }
}

// WithMetricsHandler mounts a prometheus exposition handler at /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(service vstore.Service, opts ...Option) *Handler {
	h := &Handler{
		service:    service,
		logger:     slog.Default(),
		retryAfter: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for every endpoint.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/session", func(r chi.Router) {
		r.Post("/{templateId}/{language}", h.SetupSession)
		r.Get("/{sessionId}", h.GetSession)
		r.Post("/{sessionId}/upload/{templateCode}", h.UploadFile)
	})

	r.Get("/previews/{id}/{versionId}/{templateCode}/{size}", h.GetPreview)
	r.Get("/scale/{id}/{versionId}/{templateCode}/{size}", h.GetScaled)

	r.Route("/templates", func(r chi.Router) {
		r.Post("/", h.CreateTemplate)
		r.Put("/{id}", h.UpdateTemplate)
		r.Get("/{id}", h.GetTemplate)
		r.Get("/{id}/versions", h.ListTemplateVersions)
		r.Get("/{id}/{versionId}", h.GetTemplate)
	})

	r.Route("/objects", func(r chi.Router) {
		r.Post("/", h.CreateObject)
		r.Put("/{id}", h.UpdateObject)
		r.Get("/{id}", h.GetObject)
		r.Get("/{id}/versions", h.ListObjectVersions)
		r.Get("/{id}/{versionId}", h.GetObject)
	})

	r.Get("/files/*", h.DownloadFile)
	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func int64Param(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return v, err == nil && v > 0
}

func intParam(r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	return v, err == nil
}
