package clients

import (
	"context"
	"fmt"
	"log"
	"time"
)

const defaultSendTimeout = 10 * time.Second

// Dispatcher fans messages out to every entry of a Registry.
type Dispatcher struct {
	registry    *Registry
	logger      *log.Logger
	sendTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. A zero sendTimeout uses 10s.
func NewDispatcher(registry *Registry, logger *log.Logger, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		registry:    registry,
		logger:      logger,
		sendTimeout: sendTimeout,
	}
}

// Broadcast sends message once to every entry present when it is called.
// Entries whose send fails are removed from the registry in one batch after
// the fan-out and their connections closed. It returns the number of
// successful sends and the evicted entries.
func (d *Dispatcher) Broadcast(ctx context.Context, message string) (int, []*Entry) {
	snapshot := d.registry.Snapshot()

	var failed []*Entry
	delivered := 0
	for _, e := range snapshot {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := e.Conn.Send(sendCtx, message)
		cancel()
		if err != nil {
			d.logger.Printf("broadcast: send to %s (session %s) failed: %v", e.Addr, e.ID, err)
			failed = append(failed, e)
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		d.registry.RemoveAll(failed)
		for _, e := range failed {
			_ = e.Conn.Close()
		}
		d.logger.Printf("broadcast: evicted %d unreachable clients", len(failed))
	}
	return delivered, failed
}

// DisconnectMessage is sent to a client right before it is administratively
// disconnected.
const DisconnectMessage = "disconnect_client"

// Disconnect evicts every entry for addr, telling each one it is being
// disconnected before closing it. It returns ErrNotFound when addr has no
// live entry.
func (d *Dispatcher) Disconnect(ctx context.Context, addr string) (int, error) {
	evicted := d.registry.EvictByAddress(addr)
	if len(evicted) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	for _, e := range evicted {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		if err := e.Conn.Send(sendCtx, DisconnectMessage); err != nil {
			d.logger.Printf("broadcast: disconnect notice to %s (session %s) failed: %v", e.Addr, e.ID, err)
		}
		cancel()
		_ = e.Conn.Close()
	}
	d.logger.Printf("broadcast: disconnected %d sessions from %s", len(evicted), addr)
	return len(evicted), nil
}
