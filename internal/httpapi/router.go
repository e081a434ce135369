package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/vchaos/notifyd/internal/clients"
	"github.com/vchaos/notifyd/internal/eventlog"
	"github.com/vchaos/notifyd/internal/history"
	"github.com/vchaos/notifyd/internal/settings"
)

const defaultKeepAlive = 60 * time.Second

type RouterConfig struct {
	// KeepAlive overrides the idle interval after which a session is pinged.
	// Zero reads backend.websocket.keepalive from the settings store for
	// every new session.
	KeepAlive time.Duration

	// Frontend files served at / and /static/.
	StaticDir string
}

// AckHandler receives acknowledgments from live sessions.
type AckHandler interface {
	Acknowledge(id, addr string)
	Recheck()
}

// PromptSender forwards a user prompt to the text generation backend.
type PromptSender interface {
	Send(ctx context.Context, text string, timeout time.Duration) error
}

// Services are the collaborators the HTTP surface drives.
type Services struct {
	Registry   *clients.Registry
	Dispatcher *clients.Dispatcher
	Acks       AckHandler
	Archivist  *history.Archivist
	Settings   *settings.Store
	Prompts    PromptSender
	EventLog   *eventlog.Logger
}

type Router struct {
	cfg        RouterConfig
	logger     *log.Logger
	registry   *clients.Registry
	dispatcher *clients.Dispatcher
	acks       AckHandler
	archivist  *history.Archivist
	settings   *settings.Store
	prompts    PromptSender
	eventLog   *eventlog.Logger
	sessions   *SessionTracker

	// baseCtx parents every session; cancelling it closes them all.
	baseCtx        context.Context
	cancelSessions context.CancelFunc

	mux     *http.ServeMux
	handler http.Handler
}

func NewRouter(cfg RouterConfig, svc Services, logger *log.Logger) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:            cfg,
		logger:         logger,
		registry:       svc.Registry,
		dispatcher:     svc.Dispatcher,
		acks:           svc.Acks,
		archivist:      svc.Archivist,
		settings:       svc.Settings,
		prompts:        svc.Prompts,
		eventLog:       svc.EventLog,
		sessions:       NewSessionTracker(),
		baseCtx:        ctx,
		cancelSessions: cancel,
		mux:            http.NewServeMux(),
	}

	r.routes()
	r.handler = withSentryRecovery(r.mux)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	r.mux.HandleFunc("GET /ws", r.handleWS)

	// Clients
	r.mux.HandleFunc("GET /api/clients", r.withConnection(r.handleListClients))
	r.mux.HandleFunc("GET /api/client_count", r.handleClientCount)
	r.mux.HandleFunc("POST /api/disconnect_client", r.withConnection(r.handleDisconnectClient))

	// Chat history
	r.mux.HandleFunc("GET /api/get_history", r.withConnection(r.handleGetHistory))
	r.mux.HandleFunc("POST /api/archive_chat_history", r.withConnection(r.handleArchiveHistory))
	r.mux.HandleFunc("DELETE /api/delete_chat_history", r.withConnection(r.handleDeleteHistory))

	// Settings
	r.mux.HandleFunc("GET /api/get_settings", r.handleGetSettings)
	r.mux.HandleFunc("POST /api/update_settings", r.withConnection(r.handleUpdateSettings))

	r.mux.HandleFunc("POST /api/send_prompt", r.withConnection(r.handleSendPrompt))

	// Static files
	if r.archivist != nil {
		r.mux.Handle("GET /output/", http.StripPrefix("/output/", http.FileServer(http.Dir(r.archivist.OutputDir()))))
	}
	if r.cfg.StaticDir != "" {
		r.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(r.cfg.StaticDir))))
		r.mux.HandleFunc("GET /{$}", r.handleIndex)
	}
}

// Drain refuses new sessions, closes every open one and waits for them to
// deregister or for ctx to expire.
func (r *Router) Drain(ctx context.Context) error {
	r.sessions.StartDraining()
	r.cancelSessions()

	done := make(chan struct{})
	go func() {
		r.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain: %d sessions still open: %w", r.sessions.ActiveCount(), ctx.Err())
	}
}

// ActiveSessions returns the number of running WebSocket sessions.
func (r *Router) ActiveSessions() int64 {
	return r.sessions.ActiveCount()
}

func (r *Router) keepAlive() time.Duration {
	if r.cfg.KeepAlive > 0 {
		return r.cfg.KeepAlive
	}
	if r.settings != nil {
		if d := r.settings.KeepAlive(); d > 0 {
			return d
		}
	}
	return defaultKeepAlive
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) {
	http.ServeFile(w, req, filepath.Join(r.cfg.StaticDir, "index.html"))
}

// withConnection only lets through requests from an address that holds a
// live WebSocket session.
func (r *Router) withConnection(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.registry.HasAddress(clientIP(req)) {
			http.Error(w, `{"error": "Unauthorized: WebSocket connection required."}`, http.StatusForbidden)
			return
		}
		next(w, req)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
