package httpapi

import (
	"encoding/json"
	"net/http"
)

func (r *Router) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.settings.Frontend())
}

// handleUpdateSettings always answers 200; failures are reported in the body.
func (r *Router) handleUpdateSettings(w http.ResponseWriter, req *http.Request) {
	var changes map[string]any
	if err := json.NewDecoder(req.Body).Decode(&changes); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "invalid request body"})
		return
	}

	if err := r.settings.Update(changes); err != nil {
		r.logger.Printf("settings: update rejected: %v", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}

	r.logger.Printf("settings: updated by %s", clientIP(req))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Settings updated successfully"})
}
