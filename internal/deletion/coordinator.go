// Package deletion deletes generated media once every connected client has
// acknowledged receiving it.
package deletion

import (
	"log"
	"path/filepath"
	"sync"

	"github.com/vchaos/notifyd/internal/history"
)

// ClientCounter reports how many clients are currently connected.
type ClientCounter interface {
	Size() int
}

// Deleter removes history files by name.
type Deleter interface {
	Process(action history.Action, filenames []string) history.Result
}

// Recorder receives audit events. It may be nil.
type Recorder interface {
	Record(subject, event string, data map[string]any)
}

// Pending is a media pair waiting for acknowledgments.
type Pending struct {
	ID        string
	AudioPath string
	TextPath  string
	acked     map[string]struct{}
}

// Coordinator tracks pending deletions. It only counts acknowledgments
// against the current number of connected clients; it does not remember
// which addresses were connected when the media was announced.
type Coordinator struct {
	clients  ClientCounter
	deleter  Deleter
	recorder Recorder
	logger   *log.Logger
	minAcks  int

	mu      sync.Mutex
	pending map[string]*Pending
}

// NewCoordinator creates a Coordinator. A pending deletion completes when its
// acknowledgment count reaches max(connected clients, minAcks). minAcks = 0
// lets a deletion complete with nobody connected.
func NewCoordinator(clients ClientCounter, deleter Deleter, logger *log.Logger, minAcks int) *Coordinator {
	if minAcks < 0 {
		minAcks = 0
	}
	return &Coordinator{
		clients: clients,
		deleter: deleter,
		logger:  logger,
		minAcks: minAcks,
		pending: make(map[string]*Pending),
	}
}

// SetRecorder attaches an audit recorder.
func (c *Coordinator) SetRecorder(r Recorder) {
	c.recorder = r
}

// ID derives the pending-deletion identifier from a media path.
func ID(audioPath string) string {
	base := filepath.Base(audioPath)
	return base[:len(base)-len(filepath.Ext(base))]
}

// Track registers (or resets) a pending deletion for the media pair. It is
// checked immediately, so with minAcks = 0 and no clients connected the
// files are deleted right away.
func (c *Coordinator) Track(id, audioPath, textPath string) {
	c.mu.Lock()
	c.pending[id] = &Pending{
		ID:        id,
		AudioPath: audioPath,
		TextPath:  textPath,
		acked:     make(map[string]struct{}),
	}
	ready := c.popIfSatisfiedLocked(id)
	c.mu.Unlock()

	c.record(id, "deletion_tracked", map[string]any{"audio": audioPath, "text": textPath})
	if ready != nil {
		c.delete(ready)
	}
}

// Acknowledge records that addr received the media identified by id. Unknown
// ids are ignored.
func (c *Coordinator) Acknowledge(id, addr string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.acked[addr] = struct{}{}
	c.logger.Printf("deletion: %s acknowledged by %s (%d acks)", id, addr, len(p.acked))
	ready := c.popIfSatisfiedLocked(id)
	c.mu.Unlock()

	if ready != nil {
		c.delete(ready)
	}
}

// Recheck re-evaluates every pending deletion against the current client
// count. Sessions call it after they disconnect.
func (c *Coordinator) Recheck() {
	c.mu.Lock()
	var ready []*Pending
	for id := range c.pending {
		if p := c.popIfSatisfiedLocked(id); p != nil {
			ready = append(ready, p)
		}
	}
	c.mu.Unlock()

	for _, p := range ready {
		c.delete(p)
	}
}

// Pending reports whether id is still waiting for acknowledgments.
func (c *Coordinator) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Len returns the number of pending deletions.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) popIfSatisfiedLocked(id string) *Pending {
	p := c.pending[id]
	required := c.clients.Size()
	if required < c.minAcks {
		required = c.minAcks
	}
	if len(p.acked) < required {
		return nil
	}
	delete(c.pending, id)
	return p
}

// delete runs outside the lock; failures are logged, never retried.
func (c *Coordinator) delete(p *Pending) {
	var names []string
	for _, path := range []string{p.AudioPath, p.TextPath} {
		if path != "" {
			names = append(names, filepath.Base(path))
		}
	}
	if len(names) == 0 {
		return
	}

	res := c.deleter.Process(history.ActionDelete, names)
	if !res.Success {
		c.logger.Printf("deletion: failed to delete %s: %s%s", p.ID, res.Error, res.Message)
		return
	}
	c.logger.Printf("deletion: %s", res.Message)
	c.record(p.ID, "deletion_completed", map[string]any{"files": names})
}

func (c *Coordinator) record(subject, event string, data map[string]any) {
	if c.recorder != nil {
		c.recorder.Record(subject, event, data)
	}
}
