package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
backend:
  app:
    host: 127.0.0.1
    port: 8443
    protocol: https
  urls:
    ollama_webhook: http://example.local/webhook
  websocket:
    keepalive: 15
  history:
    min-acknowledgments: 0
frontend:
  save-chat-history: false
  timeout: 120
  model-name: shizuku
`

func writeSettings(t *testing.T, content string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(path)
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	return s
}

func TestStore_Values(t *testing.T) {
	s := writeSettings(t, sampleYAML)

	if s.RetainHistory() {
		t.Error("RetainHistory() = true, want false")
	}
	if got := s.KeepAlive(); got != 15*time.Second {
		t.Errorf("KeepAlive() = %v, want 15s", got)
	}
	if got := s.WebhookTimeout(); got != 120*time.Second {
		t.Errorf("WebhookTimeout() = %v, want 120s", got)
	}
	if got := s.WebhookURL(); got != "http://example.local/webhook" {
		t.Errorf("WebhookURL() = %q", got)
	}
	if got := s.MinAcknowledgments(); got != 0 {
		t.Errorf("MinAcknowledgments() = %d, want 0", got)
	}
	if got := s.ListenAddr(); got != "127.0.0.1:8443" {
		t.Errorf("ListenAddr() = %q, want 127.0.0.1:8443", got)
	}
	if got := s.Protocol(); got != "https" {
		t.Errorf("Protocol() = %q, want https", got)
	}
	if got := s.Frontend()["model-name"]; got != "shizuku" {
		t.Errorf("Frontend()[model-name] = %v, want shizuku", got)
	}
}

func TestStore_Defaults(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.yaml"))
	if err := s.Reload(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Reload() error = %v, want not-exist", err)
	}

	if !s.RetainHistory() {
		t.Error("RetainHistory() default should be true")
	}
	if got := s.KeepAlive(); got != 60*time.Second {
		t.Errorf("KeepAlive() = %v, want 60s", got)
	}
	if got := s.WebhookTimeout(); got != 180*time.Second {
		t.Errorf("WebhookTimeout() = %v, want 180s", got)
	}
	if got := s.MinAcknowledgments(); got != 1 {
		t.Errorf("MinAcknowledgments() = %d, want 1", got)
	}
	if got := s.ListenAddr(); got != "0.0.0.0:11405" {
		t.Errorf("ListenAddr() = %q, want 0.0.0.0:11405", got)
	}
	if len(s.Frontend()) != 0 {
		t.Error("Frontend() should be empty without a file")
	}
}

func TestStore_Update(t *testing.T) {
	s := writeSettings(t, sampleYAML)

	err := s.Update(map[string]any{
		"frontend": map[string]any{
			"save-chat-history": true,
			"timeout":           float64(300),
		},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !s.RetainHistory() {
		t.Error("RetainHistory() should reflect the update")
	}

	// The file on disk is rewritten.
	reloaded := New(s.Path())
	if err := reloaded.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := reloaded.WebhookTimeout(); got != 300*time.Second {
		t.Errorf("reloaded WebhookTimeout() = %v, want 300s", got)
	}
	if got := reloaded.String("", "backend", "app", "host"); got != "127.0.0.1" {
		t.Errorf("untouched values should survive, host = %q", got)
	}
}

func TestStore_UpdateWriteFailureKeepsValues(t *testing.T) {
	s := writeSettings(t, sampleYAML)

	// A directory in place of the file makes the rewrite fail.
	if err := os.Remove(s.Path()); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(s.Path(), 0o755); err != nil {
		t.Fatal(err)
	}

	err := s.Update(map[string]any{
		"frontend": map[string]any{"save-chat-history": true, "timeout": float64(300)},
	})
	if err == nil {
		t.Fatal("Update() should report the write failure")
	}
	if s.RetainHistory() {
		t.Error("RetainHistory() changed although the update failed")
	}
	if got := s.WebhookTimeout(); got != 120*time.Second {
		t.Errorf("WebhookTimeout() = %v, want the previous 120s", got)
	}
}

func TestStore_UpdateValidation(t *testing.T) {
	tests := []struct {
		name    string
		changes map[string]any
		wantErr error
	}{
		{
			name:    "unknown category",
			changes: map[string]any{"plugins": map[string]any{"x": true}},
			wantErr: ErrInvalidCategory,
		},
		{
			name:    "unknown key",
			changes: map[string]any{"frontend": map[string]any{"nope": true}},
			wantErr: ErrInvalidSetting,
		},
		{
			name:    "wrong type",
			changes: map[string]any{"frontend": map[string]any{"save-chat-history": "yes"}},
			wantErr: ErrInvalidType,
		},
		{
			name:    "category not a map",
			changes: map[string]any{"frontend": "flat"},
			wantErr: ErrInvalidType,
		},
		{
			name:    "timeout too low",
			changes: map[string]any{"frontend": map[string]any{"timeout": float64(10)}},
			wantErr: ErrOutOfRange,
		},
		{
			name:    "timeout too high",
			changes: map[string]any{"frontend": map[string]any{"timeout": float64(601)}},
			wantErr: ErrOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := writeSettings(t, sampleYAML)
			err := s.Update(tt.changes)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Update() error = %v, want %v", err, tt.wantErr)
			}
			if s.WebhookTimeout() != 120*time.Second || s.RetainHistory() {
				t.Error("rejected update should not change settings")
			}
		})
	}
}
