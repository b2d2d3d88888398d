package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-camviewer/internal/data"
	"github.com/technosupport/ts-camviewer/internal/events"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// GET /api/v1/events?camera=&limit=&source=cache|db
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	camera := q.Get("camera")

	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxEventLimit {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	switch q.Get("source") {
	case "cache":
		respondJSON(w, http.StatusOK, h.deps.Cache.Snapshot(camera, limit))
	case "", "db":
		if h.deps.Store == nil {
			respondError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		rows, err := h.deps.Store.ListRecent(r.Context(), camera, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list events")
			return
		}
		if rows == nil {
			rows = []events.Stored{}
		}
		respondJSON(w, http.StatusOK, rows)
	default:
		respondError(w, http.StatusBadRequest, "source must be cache or db")
	}
}

// POST /api/v1/events/{id}/viewed
func (h *Handler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}
	if h.deps.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	if err := h.deps.Store.MarkViewed(r.Context(), id); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update event")
		return
	}

	// unviewed counts changed; the id alone does not say for which camera
	if h.deps.Recounter != nil {
		names := make([]string, 0, len(h.deps.Cameras))
		for _, c := range h.deps.Cameras {
			names = append(names, c.Name)
		}
		h.deps.Recounter.Recount(names)
	}
	if h.deps.UI != nil {
		h.deps.UI.RefreshCounts()
	}
	w.WriteHeader(http.StatusNoContent)
}
