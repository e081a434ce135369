package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vchaos/notifyd/internal/clients"
)

type clientInfo struct {
	IP string `json:"ip"`
}

// handleListClients returns the address of every live session.
func (r *Router) handleListClients(w http.ResponseWriter, _ *http.Request) {
	addrs := r.registry.Addresses()
	out := make([]clientInfo, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, clientInfo{IP: a})
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": out})
}

func (r *Router) handleClientCount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": r.registry.Size()})
}

// handleDisconnectClient tells every session of the given address to go away
// and closes it. The client has to reload to reconnect.
func (r *Router) handleDisconnectClient(w http.ResponseWriter, req *http.Request) {
	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.IP == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body"})
		return
	}

	if _, err := r.dispatcher.Disconnect(req.Context(), body.IP); err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Client not found."})
			return
		}
		r.logger.Printf("clients: disconnect %s failed: %v", body.IP, err)
		captureError(req, err, "clients: disconnect failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}

	r.logger.Printf("clients: %s disconnected by %s", body.IP, clientIP(req))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Client %s disconnected.", body.IP),
	})
}
