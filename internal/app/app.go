package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vchaos/notifyd/internal/clients"
	"github.com/vchaos/notifyd/internal/deletion"
	"github.com/vchaos/notifyd/internal/eventlog"
	"github.com/vchaos/notifyd/internal/history"
	"github.com/vchaos/notifyd/internal/httpapi"
	"github.com/vchaos/notifyd/internal/jobs"
	"github.com/vchaos/notifyd/internal/settings"
	"github.com/vchaos/notifyd/internal/webhook"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	settings *settings.Store
	eventLog *eventlog.Logger

	registry    *clients.Registry
	coordinator *deletion.Coordinator
	bridge      *jobs.NotificationBridge
	router      *httpapi.Router
}

func New(cfg Config, st *settings.Store, logger *log.Logger) (*App, error) {
	// The event log is optional; without a database every event is dropped.
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var err error
		db, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	}
	// Migrations are applied externally (migrations/*.sql).
	el := eventlog.New(db)

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	registry := clients.NewRegistry()
	dispatcher := clients.NewDispatcher(registry, logger, cfg.SendTimeout)
	archivist := history.NewArchivist(cfg.OutputDir, cfg.ArchiveDir, history.NewEraser(logger, cfg.ErasePasses), logger)

	coordinator := deletion.NewCoordinator(registry, archivist, logger, st.MinAcknowledgments())
	coordinator.SetRecorder(el)

	bridge := jobs.NewNotificationBridge(jobs.NotificationBridgeConfig{
		SignalPath: cfg.SignalFile,
		Interval:   cfg.PollInterval,
		Watch:      cfg.WatchSignalDir,
	}, dispatcher, coordinator, st, logger)
	bridge.SetRecorder(el)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		StaticDir: cfg.StaticDir,
	}, httpapi.Services{
		Registry:   registry,
		Dispatcher: dispatcher,
		Acks:       coordinator,
		Archivist:  archivist,
		Settings:   st,
		Prompts:    webhook.NewClient(st, logger),
		EventLog:   el,
	}, logger)

	return &App{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		settings:    st,
		eventLog:    el,
		registry:    registry,
		coordinator: coordinator,
		bridge:      bridge,
		router:      router,
	}, nil
}

func (a *App) Router() http.Handler {
	return a.router
}

// ListenAddr is HTTP_ADDR when set, otherwise backend.app.host:port.
func (a *App) ListenAddr() string {
	if a.cfg.HTTPAddr != "" {
		return a.cfg.HTTPAddr
	}
	return a.settings.ListenAddr()
}

// UseTLS reports whether the settings ask for https.
func (a *App) UseTLS() bool {
	return a.settings.Protocol() == "https"
}

// Start launches the background jobs.
func (a *App) Start() {
	a.bridge.Start()
}

// Shutdown drains every client session and stops the background jobs. It
// must be called at most once, after Start.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.router.Drain(ctx); err != nil {
		errs = append(errs, err)
	}
	a.bridge.Stop()
	a.eventLog.Wait()
	if n := a.coordinator.Len(); n > 0 {
		a.logger.Printf("app: %d pending deletions dropped at shutdown", n)
	}
	return errors.Join(errs...)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
