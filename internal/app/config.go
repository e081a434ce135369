package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTPAddr overrides backend.app.host/port from the settings file.
	HTTPAddr     string
	SettingsFile string
	DatabaseURL  string
	SentryDSN    string

	// Output store
	OutputDir  string
	ArchiveDir string
	SignalFile string
	StaticDir  string

	// Notification bridge
	PollInterval   time.Duration
	WatchSignalDir bool

	// Broadcast
	SendTimeout time.Duration

	// Secure erase
	ErasePasses int

	// TLS, used when backend.app.protocol is https
	TLSCertFile string
	TLSKeyFile  string
}

func LoadConfigFromEnv() Config {
	outputDir := getenv("OUTPUT_DIR", "output")

	return Config{
		HTTPAddr:     getenv("HTTP_ADDR", ""),
		SettingsFile: getenv("SETTINGS_FILE", "settings.yaml"),
		DatabaseURL:  getenv("DATABASE_URL", ""),
		SentryDSN:    getenv("SENTRY_DSN", ""),

		// Output store
		OutputDir:  outputDir,
		ArchiveDir: getenv("ARCHIVE_DIR", "archived"),
		SignalFile: getenv("SIGNAL_FILE", filepath.Join(outputDir, "new_audio.json")),
		StaticDir:  getenv("STATIC_DIR", "static"),

		// Notification bridge
		PollInterval:   time.Duration(getenvIntClamped("POLL_INTERVAL_MS", 1000, 50, 60000)) * time.Millisecond,
		WatchSignalDir: getenvBool("WATCH_SIGNAL_DIR", true),

		// Broadcast
		SendTimeout: time.Duration(getenvFloatClamped("SEND_TIMEOUT_SECONDS", 10, 0.1, 120) * float64(time.Second)),

		// Secure erase
		ErasePasses: getenvIntClamped("ERASE_PASSES", 3, 1, 35),

		// TLS
		TLSCertFile: getenv("TLS_CERT_FILE", "cert.pem"),
		TLSKeyFile:  getenv("TLS_KEY_FILE", "key.pem"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped reads an integer, falling back to def when unset or
// invalid, and clamps it to [min, max].
func getenvIntClamped(k string, def, min, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// getenvFloatClamped is getenvIntClamped for floats.
func getenvFloatClamped(k string, def, min, max float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(k)), 64)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func getenvBool(k string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}
