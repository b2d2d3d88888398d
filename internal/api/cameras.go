package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-camviewer/internal/config"
	"github.com/technosupport/ts-camviewer/internal/ingest"
	"github.com/technosupport/ts-camviewer/internal/persist"
	"github.com/technosupport/ts-camviewer/internal/supervisor"
)

type cameraResponse struct {
	Name       string               `json:"name"`
	Endpoint   string               `json:"endpoint"`
	Strategies []config.Strategy    `json:"strategies"`
	Counts     persist.Counts       `json:"counts"`
	Remote     *ingest.CameraStatus `json:"remote,omitempty"`
}

// GET /api/v1/cameras
func (h *Handler) ListCameras(w http.ResponseWriter, r *http.Request) {
	out := make([]cameraResponse, 0, len(h.deps.Cameras))
	for _, c := range h.deps.Cameras {
		resp := cameraResponse{
			Name:       c.Name,
			Endpoint:   c.Endpoint,
			Strategies: c.Strategies,
			Counts:     h.deps.Counters.Get(c.Name),
		}
		if st, ok := h.deps.Remote.Get(c.Name); ok {
			resp.Remote = &st
		}
		out = append(out, resp)
	}
	respondJSON(w, http.StatusOK, out)
}

// GET /api/v1/cameras/{name}/counts
// Reads storage directly rather than the cached counters.
func (h *Handler) CameraCounts(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.cameras[name]; !ok {
		respondError(w, http.StatusNotFound, "unknown camera")
		return
	}
	if h.deps.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	unviewed, err := h.deps.Store.CountUnviewed(r.Context(), name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count events")
		return
	}
	recent, err := h.deps.Store.CountSince(r.Context(), name, h.now().Add(-24*time.Hour))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count events")
		return
	}
	respondJSON(w, http.StatusOK, persist.Counts{Camera: name, Unviewed: unviewed, Last24h: recent})
}

// POST /api/v1/cameras/{name}/connect
// Blocks until the session is live or every strategy has failed.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	if h.deps.Supervisor == nil {
		respondError(w, http.StatusServiceUnavailable, "supervisor unavailable")
		return
	}
	name := chi.URLParam(r, "name")

	err := h.deps.Supervisor.Connect(r.Context(), name)
	switch {
	case err == nil:
	case errors.Is(err, supervisor.ErrUnknownCamera):
		respondError(w, http.StatusNotFound, "unknown camera")
		return
	case errors.Is(err, supervisor.ErrAllStrategiesFailed):
		respondError(w, http.StatusBadGateway, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "connect cancelled")
		return
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	info, _ := h.deps.Supervisor.Session()
	respondJSON(w, http.StatusOK, sessionResponse{State: h.deps.Supervisor.State(), Session: &info})
}
