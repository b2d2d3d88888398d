// Package api is the loopback HTTP surface of the viewer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-camviewer/internal/config"
	"github.com/technosupport/ts-camviewer/internal/data"
	"github.com/technosupport/ts-camviewer/internal/ingest"
	"github.com/technosupport/ts-camviewer/internal/middleware"
	"github.com/technosupport/ts-camviewer/internal/persist"
	"github.com/technosupport/ts-camviewer/internal/presentation"
	"github.com/technosupport/ts-camviewer/internal/supervisor"
)

// Supervisor is the session control surface the handlers drive.
type Supervisor interface {
	Connect(ctx context.Context, camera string) error
	Disconnect() error
	State() supervisor.State
	Session() (supervisor.SessionInfo, bool)
}

// Recounter reloads derived counters after a change made outside the
// persistence worker.
type Recounter interface {
	Recount(cameras []string)
}

type Deps struct {
	Cameras    []config.Camera
	Store      data.EventRepository
	Counters   *persist.Counters
	Recounter  Recounter
	Cache      *ingest.RecentCache
	Remote     *ingest.RemoteStatus
	Supervisor Supervisor
	UI         presentation.Callbacks
	View       func() presentation.View
	SetFilter  func(camera string)
	Hub        *presentation.Hub
	MediaRoot  string
	// Quit requests a graceful shutdown. It must not block.
	Quit func()
}

type Handler struct {
	deps    Deps
	cameras map[string]config.Camera
	now     func() time.Time
}

func NewHandler(deps Deps) *Handler {
	if deps.Counters == nil {
		deps.Counters = persist.NewCounters()
	}
	if deps.Cache == nil {
		deps.Cache = ingest.NewRecentCache(0)
	}
	if deps.Remote == nil {
		deps.Remote = ingest.NewRemoteStatus()
	}
	cams := make(map[string]config.Camera, len(deps.Cameras))
	for _, c := range deps.Cameras {
		cams[c.Name] = c
	}
	return &Handler{deps: deps, cameras: cams, now: time.Now}
}

// Router wires every route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	if h.deps.Hub != nil {
		r.Get("/ws", h.deps.Hub.ServeWS)
	}
	r.Get("/media/*", h.ServeMedia)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireJSON)

		r.Get("/cameras", h.ListCameras)
		r.Get("/cameras/{name}/counts", h.CameraCounts)
		r.Post("/cameras/{name}/connect", h.Connect)

		r.Get("/session", h.GetSession)
		r.Post("/session/disconnect", h.Disconnect)

		r.Get("/events", h.ListEvents)
		r.Post("/events/{id}/viewed", h.MarkViewed)

		r.Get("/view", h.GetView)
		r.Post("/view/filter", h.SetFilter)
		r.Post("/quit", h.Quit)
	})
	return r
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/v1/view
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	if h.deps.View == nil {
		respondError(w, http.StatusServiceUnavailable, "presentation loop not running")
		return
	}
	respondJSON(w, http.StatusOK, h.deps.View())
}

type filterRequest struct {
	Camera string `json:"camera"`
}

// POST /api/v1/view/filter
// An empty camera shows every camera.
func (h *Handler) SetFilter(w http.ResponseWriter, r *http.Request) {
	if h.deps.SetFilter == nil {
		respondError(w, http.StatusServiceUnavailable, "presentation loop not running")
		return
	}
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, ok := h.cameras[req.Camera]; req.Camera != "" && !ok {
		respondError(w, http.StatusNotFound, "unknown camera")
		return
	}
	h.deps.SetFilter(req.Camera)
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/quit
func (h *Handler) Quit(w http.ResponseWriter, r *http.Request) {
	if h.deps.Quit == nil {
		respondError(w, http.StatusNotImplemented, "shutdown not available")
		return
	}
	h.deps.Quit()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
}
