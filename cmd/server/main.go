package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/vchaos/notifyd/internal/app"
	"github.com/vchaos/notifyd/internal/settings"
)

func main() {
	flags := pflag.NewFlagSet("notifyd", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "optional dotenv file loaded before the environment is read")
	settingsFile := flags.String("settings", "", "settings YAML file (overrides SETTINGS_FILE)")
	addr := flags.String("addr", "", "listen address (overrides HTTP_ADDR and backend.app host/port)")
	help := flags.BoolP("help", "h", false, "show usage")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if *help {
		flags.Usage()
		return
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			logger.Fatalf("load %s: %v", *envFile, err)
		}
		logger.Printf("loaded environment from %s", *envFile)
	}

	cfg := app.LoadConfigFromEnv()
	if *settingsFile != "" {
		cfg.SettingsFile = *settingsFile
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	// Initialize Sentry for error monitoring
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      getEnvironment(),
		})
		if err != nil {
			logger.Printf("sentry init failed: %v", err)
		} else {
			logger.Printf("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	st := settings.New(cfg.SettingsFile)
	if err := st.Reload(); err != nil {
		logger.Printf("settings: %v, using defaults", err)
	}

	a, err := app.New(cfg, st, logger)
	if err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		logger.Fatalf("init app: %v", err)
	}

	listenAddr := a.ListenAddr()
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Start()

	go func() {
		var err error
		if a.UseTLS() {
			logger.Printf("listening on https://%s", listenAddr)
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			logger.Printf("listening on http://%s", listenAddr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Sessions are hijacked connections, so they are drained before the server stops.
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	_ = srv.Shutdown(shutdownCtx)
	_ = a.Close()
}

func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}
