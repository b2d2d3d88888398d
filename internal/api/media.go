package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-camviewer/internal/platform/paths"
)

// GET /media/*
// Serves recorded clips referenced by event video paths, confined to the
// configured media root.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	if h.deps.MediaRoot == "" {
		respondError(w, http.StatusNotFound, "media root not configured")
		return
	}

	full, err := paths.SafeJoin(h.deps.MediaRoot, chi.URLParam(r, "*"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid path")
		return
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeFile(w, r, full)
}
