// Package settings reads and updates the YAML settings file shared with the
// frontend.
//
// The file has two top-level categories, "backend" and "frontend". Values
// are read on demand from the in-memory tree, so an Update or Reload is
// visible to every caller immediately.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidSetting  = errors.New("invalid setting")
	ErrInvalidType     = errors.New("invalid type")
	ErrOutOfRange      = errors.New("value out of range")
)

const (
	minTimeoutSeconds = 30
	maxTimeoutSeconds = 600

	defaultWebhookURL = "http://homeassistant.local:8123/api/webhook/ollama_chat"
)

// Store holds the parsed settings file.
type Store struct {
	path string

	mu   sync.RWMutex
	data map[string]any
}

// New creates a Store for path with no settings loaded. Call Reload to read the file.
func New(path string) *Store {
	return &Store{path: path, data: map[string]any{}}
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Reload re-reads the settings file. On error the previous values are kept.
func (s *Store) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// RetainHistory reports whether generated media is kept after delivery.
func (s *Store) RetainHistory() bool {
	return s.Bool(true, "frontend", "save-chat-history")
}

// KeepAlive is how long a connection may stay silent before it is pinged.
func (s *Store) KeepAlive() time.Duration {
	return time.Duration(s.Int(60, "backend", "websocket", "keepalive")) * time.Second
}

// WebhookTimeout bounds a prompt forwarded to the text generation webhook.
func (s *Store) WebhookTimeout() time.Duration {
	return time.Duration(s.Int(180, "frontend", "timeout")) * time.Second
}

// WebhookURL is the text generation webhook endpoint.
func (s *Store) WebhookURL() string {
	return s.String(defaultWebhookURL, "backend", "urls", "ollama_webhook")
}

// MinAcknowledgments is the lowest acknowledgment count that can complete a
// pending deletion, regardless of how many clients are connected.
func (s *Store) MinAcknowledgments() int {
	return s.Int(1, "backend", "history", "min-acknowledgments")
}

// ListenAddr is host:port from backend.app.
func (s *Store) ListenAddr() string {
	host := s.String("0.0.0.0", "backend", "app", "host")
	port := s.Int(11405, "backend", "app", "port")
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Protocol is "http" or "https".
func (s *Store) Protocol() string {
	return s.String("http", "backend", "app", "protocol")
}

// Frontend returns a copy of the frontend category.
func (s *Store) Frontend() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]any{}
	if m, ok := s.data["frontend"].(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// Bool returns the boolean at path, or def.
func (s *Store) Bool(def bool, path ...string) bool {
	if v, ok := s.lookup(path...).(bool); ok {
		return v
	}
	return def
}

// Int returns the integer at path, or def.
func (s *Store) Int(def int, path ...string) int {
	switch v := s.lookup(path...).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// String returns the string at path, or def.
func (s *Store) String(def string, path ...string) string {
	if v, ok := s.lookup(path...).(string); ok && v != "" {
		return v
	}
	return def
}

func (s *Store) lookup(path ...string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cur any = s.data
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// Update merges changes into the settings and rewrites the file. Every
// category and key must already exist and keep its value's kind.
func (s *Store) Update(changes map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validate(s.data, changes); err != nil {
		return err
	}

	// Changes go to a copy that replaces s.data only once the file is written.
	next := clone(s.data).(map[string]any)
	for category, v := range changes {
		current := next[category].(map[string]any)
		for key, value := range v.(map[string]any) {
			current[key] = normalize(value)
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(next); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	s.data = next
	return nil
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = clone(e)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = clone(e)
		}
		return l
	}
	return v
}

func validate(current, changes map[string]any) error {
	for category, v := range changes {
		existing, ok := current[category].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidCategory, category)
		}
		values, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%w for %s: expected map, got %s", ErrInvalidType, category, kind(v))
		}

		for key, value := range values {
			old, ok := existing[key]
			if !ok {
				return fmt.Errorf("%w: %s", ErrInvalidSetting, key)
			}
			if want, got := kind(old), kind(value); want != got {
				return fmt.Errorf("%w for %s: expected %s, got %s", ErrInvalidType, key, want, got)
			}
			if category == "frontend" && key == "timeout" {
				n, _ := toFloat(value)
				if n < minTimeoutSeconds || n > maxTimeoutSeconds {
					return fmt.Errorf("%w: timeout must be between %d and %d", ErrOutOfRange, minTimeoutSeconds, maxTimeoutSeconds)
				}
			}
		}
	}
	return nil
}

func kind(v any) string {
	switch v.(type) {
	case bool:
		return "bool"
	case string:
		return "string"
	case int, int64, uint64, float64:
		return "number"
	case map[string]any:
		return "map"
	case []any:
		return "list"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// normalize stores integral JSON numbers as ints so the YAML stays tidy.
func normalize(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < math.MaxInt32 {
		return int(f)
	}
	return v
}
