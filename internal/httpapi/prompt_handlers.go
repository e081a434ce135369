package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

func (r *Router) handleSendPrompt(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": fmt.Sprintf("Application error: %v", err)})
		return
	}

	input := strings.TrimSpace(body.Text)
	if input == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "No input text provided"})
		return
	}

	timeout := r.settings.WebhookTimeout()
	if err := r.prompts.Send(req.Context(), input, timeout); err != nil {
		r.logger.Printf("prompt: webhook failed: %v", err)
		msg := fmt.Sprintf("HTTP Request error: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("Request timed out after %d seconds", int(timeout.Seconds()))
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": msg})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Sent successfully",
		"input":   input,
	})
}
