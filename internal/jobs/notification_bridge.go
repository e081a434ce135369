package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/getsentry/sentry-go"
	"github.com/vchaos/notifyd/internal/clients"
	"github.com/vchaos/notifyd/internal/deletion"
)

// Broadcaster fans a message out to every connected client.
type Broadcaster interface {
	Broadcast(ctx context.Context, message string) (int, []*clients.Entry)
}

// DeletionTracker registers media pairs that must be deleted once acknowledged.
type DeletionTracker interface {
	Track(id, audioPath, textPath string)
}

// RetentionPolicy reports whether generated media should be kept.
type RetentionPolicy interface {
	RetainHistory() bool
}

// Recorder receives audit events. It may be nil.
type Recorder interface {
	Record(subject, event string, data map[string]any)
}

// MediaNotification is one parsed signal file.
type MediaNotification struct {
	AudioFile string
	TextFile  string
	Fields    map[string]any
}

// ParseSignal decodes a signal file. Numbers are kept as json.Number so
// passthrough fields re-encode exactly. TextFile is derived from a .wav
// AudioFile and left empty otherwise.
func ParseSignal(raw []byte) (MediaNotification, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return MediaNotification{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return MediaNotification{}, errors.New("invalid character after top-level value")
	}
	if fields == nil {
		fields = map[string]any{}
	}

	n := MediaNotification{Fields: fields}
	if audio, ok := fields["audio_file"].(string); ok {
		n.AudioFile = strings.TrimSpace(audio)
	}
	if strings.HasSuffix(n.AudioFile, ".wav") {
		n.TextFile = strings.TrimSuffix(n.AudioFile, ".wav") + ".txt"
	}
	return n, nil
}

// NotificationBridgeConfig configures a NotificationBridge.
type NotificationBridgeConfig struct {
	SignalPath string
	Interval   time.Duration // default 1s
	// Watch wakes the bridge on filesystem events in the signal file's
	// directory in addition to the periodic poll.
	Watch bool
}

// NotificationBridge turns signal files written by the speech synthesis
// backend into client broadcasts. It polls on a fixed interval and:
// - broadcasts the parsed record to every connected client
// - deletes the signal file
// - registers the media pair for deletion when history is not retained
type NotificationBridge struct {
	cfg         NotificationBridgeConfig
	broadcaster Broadcaster
	tracker     DeletionTracker
	retention   RetentionPolicy
	recorder    Recorder
	logger      *log.Logger

	lastBadModTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNotificationBridge creates a new notification bridge job.
func NewNotificationBridge(cfg NotificationBridgeConfig, b Broadcaster, t DeletionTracker, r RetentionPolicy, logger *log.Logger) *NotificationBridge {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationBridge{
		cfg:         cfg,
		broadcaster: b,
		tracker:     t,
		retention:   r,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		stopCh:      make(chan struct{}),
	}
}

// SetRecorder attaches an audit recorder.
func (j *NotificationBridge) SetRecorder(r Recorder) {
	j.recorder = r
}

// Start begins the background job.
func (j *NotificationBridge) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("bridge: started (signal=%s, interval=%v, watch=%t)", j.cfg.SignalPath, j.cfg.Interval, j.cfg.Watch)
}

// Stop gracefully stops the background job. An in-flight broadcast is
// cancelled.
func (j *NotificationBridge) Stop() {
	close(j.stopCh)
	j.cancel()
	j.wg.Wait()
	j.logger.Println("bridge: stopped")
}

func (j *NotificationBridge) run() {
	defer j.wg.Done()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if j.cfg.Watch {
		if w, err := j.newWatcher(); err != nil {
			j.logger.Printf("bridge: filesystem watch unavailable, polling only: %v", err)
		} else {
			defer w.Close()
			events, watchErrs = w.Events, w.Errors
		}
	}

	// Run immediately on start
	j.processOnce()

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	signalName := filepath.Base(j.cfg.SignalPath)
	for {
		select {
		case <-ticker.C:
			j.processOnce()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) == signalName && ev.Has(fsnotify.Create|fsnotify.Write) {
				j.processOnce()
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			j.logger.Printf("bridge: watch error: %v", err)
		case <-j.stopCh:
			return
		}
	}
}

// newWatcher watches the signal file's directory rather than the file, so
// the watch survives the file being deleted and recreated.
func (j *NotificationBridge) newWatcher() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(j.cfg.SignalPath)); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// processOnce runs one iteration. Panics are reported and swallowed so the
// loop keeps running.
func (j *NotificationBridge) processOnce() {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			j.logger.Printf("bridge: recovered from panic: %v", r)
		}
	}()

	if err := j.process(); err != nil {
		j.logger.Printf("bridge: error processing signal file: %v", err)
	}
}

func (j *NotificationBridge) process() error {
	info, err := os.Stat(j.cfg.SignalPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(j.cfg.SignalPath)
	if err != nil {
		return err
	}

	n, err := ParseSignal(raw)
	if err != nil {
		// Left in place for the next poll. Only log once per version of the file.
		if !info.ModTime().Equal(j.lastBadModTime) {
			j.lastBadModTime = info.ModTime()
			j.logger.Printf("bridge: failed to parse signal file %s: %v", j.cfg.SignalPath, err)
		}
		return nil
	}

	message, err := json.Marshal(n.Fields)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	delivered, evicted := j.broadcaster.Broadcast(j.ctx, string(message))
	j.logger.Printf("bridge: notified %d clients of %s", delivered, n.AudioFile)
	j.record(n.AudioFile, "notification_broadcast", map[string]any{
		"delivered": delivered,
		"evicted":   len(evicted),
	})

	if err := os.Remove(j.cfg.SignalPath); err != nil {
		return fmt.Errorf("remove signal file: %w", err)
	}

	if n.AudioFile != "" && !j.retention.RetainHistory() {
		j.tracker.Track(deletion.ID(n.AudioFile), n.AudioFile, n.TextFile)
	}
	return nil
}

func (j *NotificationBridge) record(subject, event string, data map[string]any) {
	if j.recorder != nil {
		j.recorder.Record(subject, event, data)
	}
}
