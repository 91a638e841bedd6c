package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/online-ide/internal/session"
)

// ListSessions returns every live IDE session.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	resp := []session.Info{}
	if Sessions != nil {
		for _, s := range Sessions.List() {
			resp = append(resp, s.Info())
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": resp,
	})
}

// CloseSession force-closes one session, killing its processes.
func CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session registry not initialized")
		return
	}

	if err := Sessions.Close(id, "closed by administrator"); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to close session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
