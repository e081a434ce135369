package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vchaos/notifyd/internal/clients"
	"github.com/vchaos/notifyd/internal/eventlog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client protocol messages.
const (
	ackPrefix   = "ack:"
	pingMessage = "ping"
)

// writeWait bounds a single frame write when the caller's context has no deadline.
const writeWait = 10 * time.Second

var errSessionClosed = errors.New("session closed")

type sessionState int32

const (
	stateConnecting sessionState = iota
	stateOpen
	stateClosing
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// clientSession manages a single browser client's WebSocket connection. It
// implements clients.Conn so the registry and dispatcher can reach it.
type clientSession struct {
	router *Router
	entry  *clients.Entry
	addr   string

	conn    *websocket.Conn
	writeMu sync.Mutex

	keepAlive time.Duration
	state     atomic.Int32
	closeOnce sync.Once

	readErr    chan error
	readerDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *clientSession) State() sessionState {
	return sessionState(s.state.Load())
}

// Send writes one text frame. Writes are serialized so frames reach the
// client in send order.
func (s *clientSession) Send(ctx context.Context, message string) error {
	if s.State() >= stateClosing {
		return errSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once and from any goroutine.
func (s *clientSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.CompareAndSwap(int32(stateConnecting), int32(stateClosing))
		s.state.CompareAndSwap(int32(stateOpen), int32(stateClosing))
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	if !r.sessions.Add() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.sessions.Done()
		r.logger.Printf("ws: upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	s := &clientSession{
		router:     r,
		addr:       clientIP(req),
		conn:       conn,
		keepAlive:  r.keepAlive(),
		readErr:    make(chan error, 1),
		readerDone: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.entry = clients.NewEntry(s, s.addr)

	for _, stale := range r.registry.Replace(s.entry) {
		_ = stale.Conn.Close()
		r.logger.Printf("ws: evicted stale session %s for %s", stale.ID, stale.Addr)
		r.eventLog.LogAsync(stale.Addr, eventlog.EventClientEvicted, map[string]any{
			"session":     stale.ID,
			"replaced_by": s.entry.ID,
		})
	}

	// The entry is already published, so a concurrent Close may win here.
	if s.markOpen() {
		r.logger.Printf("ws: client %s connected (session %s)", s.addr, s.entry.ID)
		r.eventLog.LogAsync(s.addr, eventlog.EventClientConnected, map[string]any{
			"session": s.entry.ID,
		})
	} else {
		r.logger.Printf("ws: session %s for %s closed before it opened", s.entry.ID, s.addr)
	}

	s.run()
}

// markOpen moves a connecting session to open. It reports false when the
// session is already closing.
func (s *clientSession) markOpen() bool {
	return s.state.CompareAndSwap(int32(stateConnecting), int32(stateOpen))
}

// run waits for inbound messages until the connection ends. When nothing
// arrives within the keep-alive interval a ping is sent and the wait starts
// over; an idle connection is never closed for being idle.
func (s *clientSession) run() {
	defer s.cleanup()

	msgs := make(chan string)
	go s.readLoop(msgs)

	idle := time.NewTimer(s.keepAlive)
	defer idle.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case err := <-s.readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.router.logger.Printf("ws: client %s disconnected", s.addr)
			} else if s.State() == stateOpen {
				s.router.logger.Printf("ws: read error for %s: %v", s.addr, err)
			}
			return

		case msg := <-msgs:
			s.handleMessage(msg)
			idle.Reset(s.keepAlive)

		case <-idle.C:
			if err := s.Send(s.ctx, pingMessage); err != nil {
				s.router.logger.Printf("ws: keep-alive to %s failed: %v", s.addr, err)
				return
			}
			idle.Reset(s.keepAlive)
		}
	}
}

func (s *clientSession) readLoop(msgs chan<- string) {
	defer close(s.readerDone)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr <- err
			return
		}
		select {
		case msgs <- string(data):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *clientSession) handleMessage(msg string) {
	if !strings.HasPrefix(msg, ackPrefix) {
		s.router.logger.Printf("ws: message from %s ignored: %q", s.addr, msg)
		return
	}
	id := strings.TrimSpace(strings.TrimPrefix(msg, ackPrefix))
	if id == "" {
		return
	}
	s.router.acks.Acknowledge(id, s.addr)
}

func (s *clientSession) cleanup() {
	_ = s.Close()
	<-s.readerDone

	removed := s.router.registry.Remove(s.entry)
	s.state.Store(int32(stateClosed))

	// The departing client may have been the last one holding a deletion back.
	s.router.acks.Recheck()

	s.router.sessions.Done()
	s.router.eventLog.LogAsync(s.addr, eventlog.EventClientDisconnected, map[string]any{
		"session":    s.entry.ID,
		"registered": removed,
	})
	s.router.logger.Printf("ws: session %s for %s cleaned up", s.entry.ID, s.addr)
}

// clientIP returns the host part of the request's remote address.
func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
