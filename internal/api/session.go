package api

import (
	"net/http"

	"github.com/technosupport/ts-camviewer/internal/supervisor"
)

type sessionResponse struct {
	State   supervisor.State        `json:"state"`
	Session *supervisor.SessionInfo `json:"session,omitempty"`
}

// GET /api/v1/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Supervisor == nil {
		respondError(w, http.StatusServiceUnavailable, "supervisor unavailable")
		return
	}
	resp := sessionResponse{State: h.deps.Supervisor.State()}
	if info, ok := h.deps.Supervisor.Session(); ok {
		resp.Session = &info
	}
	respondJSON(w, http.StatusOK, resp)
}

// POST /api/v1/session/disconnect
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if h.deps.Supervisor == nil {
		respondError(w, http.StatusServiceUnavailable, "supervisor unavailable")
		return
	}
	if err := h.deps.Supervisor.Disconnect(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{State: h.deps.Supervisor.State()})
}
