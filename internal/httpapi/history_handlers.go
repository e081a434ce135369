package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vchaos/notifyd/internal/eventlog"
	"github.com/vchaos/notifyd/internal/history"
)

func (r *Router) handleGetHistory(w http.ResponseWriter, req *http.Request) {
	entries, err := r.archivist.List(req.URL.Query().Get("search"))
	if err != nil {
		r.logger.Printf("history: listing failed: %v", err)
		captureError(req, err, "history: listing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleArchiveHistory(w http.ResponseWriter, req *http.Request) {
	r.processHistory(w, req, history.ActionArchive)
}

func (r *Router) handleDeleteHistory(w http.ResponseWriter, req *http.Request) {
	r.processHistory(w, req, history.ActionDelete)
}

// processHistory runs action over the filenames in the body. A missing body
// or filename list means every history file.
func (r *Router) processHistory(w http.ResponseWriter, req *http.Request, action history.Action) {
	var body struct {
		Filenames []string `json:"filenames"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, history.Result{Error: "invalid request body"})
		return
	}

	res := r.archivist.Process(action, body.Filenames)
	r.logger.Printf("history: %s requested by %s: success=%t wav=%d txt=%d", action, clientIP(req), res.Success, res.Wav, res.Txt)
	r.eventLog.LogAsync(clientIP(req), eventlog.EventHistoryProcessed, map[string]any{
		"action":  string(action),
		"success": res.Success,
		"wav":     res.Wav,
		"txt":     res.Txt,
	})
	writeJSON(w, http.StatusOK, res)
}
