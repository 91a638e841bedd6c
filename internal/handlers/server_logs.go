package handlers

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/online-ide/internal/logging"
)

const (
	defaultLogLines = 200
	maxLogLines     = 10000
)

func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogLines
	if q := r.URL.Query().Get("lines"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		lines = min(n, maxLogLines)
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}
