// Package connmgr supervises the market data stream connection. It owns
// the dial / read / reconnect cycle so the rest of the agent only ever
// sees a channel of ticks: the strategy keeps its state across drops and
// simply goes quiet until data resumes.
package connmgr

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"intradaybot/internal/model"
)

// State of the managed connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Stream is a dialable tick source. Connect establishes the session and
// subscriptions; ReadTick blocks until a tick arrives or the stream fails;
// Close unblocks a pending ReadTick. Implemented by the broker websocket.
type Stream interface {
	Connect(ctx context.Context) error
	ReadTick() (model.Tick, error)
	Close() error
}

// Config configures the manager.
type Config struct {
	Backoff time.Duration // fixed delay between reconnect attempts
}

// Manager runs the connect/read/reconnect loop for one Stream.
type Manager struct {
	stream  Stream
	backoff time.Duration

	state       atomic.Int32
	reconnects  atomic.Int64
	reconnectCh chan struct{}

	// OnStateChange is called from the manager goroutine on every
	// transition (optional, set before Run).
	OnStateChange func(State)
}

// New creates a Manager. A zero backoff defaults to 5s.
func New(stream Stream, cfg Config) *Manager {
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Manager{
		stream:      stream,
		backoff:     backoff,
		reconnectCh: make(chan struct{}, 1),
	}
}

// State returns the current connection state. Safe from any goroutine.
func (m *Manager) State() State { return State(m.state.Load()) }

// Reconnects returns how many times the connection was re-established.
func (m *Manager) Reconnects() int64 { return m.reconnects.Load() }

// RequestReconnect asks the manager to tear down and redial, e.g. from a
// stale-data watchdog. Single-flight: requests while one is already
// pending coalesce into it. Safe from any goroutine.
func (m *Manager) RequestReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
		log.Printf("[connmgr] reconnect requested")
	default:
		// One already pending; this request rides along with it.
	}
}

// Run drives the connection until ctx is cancelled. Ticks are forwarded to
// tickCh; the channel is not closed on exit (the caller owns it).
func (m *Manager) Run(ctx context.Context, tickCh chan<- model.Tick) {
	defer m.setState(StateDisconnected)

	first := true
	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(StateConnecting)
		if err := m.stream.Connect(ctx); err != nil {
			log.Printf("[connmgr] connect failed: %v (retrying in %v)", err, m.backoff)
			m.setState(StateDisconnected)
			if !sleep(ctx, m.backoff) {
				return
			}
			continue
		}

		if !first {
			m.reconnects.Add(1)
		}
		first = false
		m.setState(StateConnected)

		// Drop any reconnect request that predates this connection.
		select {
		case <-m.reconnectCh:
		default:
		}

		m.readUntilDrop(ctx, tickCh)

		m.setState(StateDisconnected)
		if !sleep(ctx, m.backoff) {
			return
		}
	}
}

// readUntilDrop forwards ticks until the stream fails, a reconnect is
// requested, or ctx is cancelled. The watcher goroutine closes the stream
// to unblock a pending ReadTick on either of the latter two.
func (m *Manager) readUntilDrop(ctx context.Context, tickCh chan<- model.Tick) {
	readerDone := make(chan struct{})
	watcherDone := make(chan struct{})

	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
		case <-m.reconnectCh:
			log.Printf("[connmgr] tearing down connection on reconnect request")
		case <-readerDone:
			return
		}
		m.stream.Close()
	}()

	for {
		t, err := m.stream.ReadTick()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[connmgr] stream dropped: %v", err)
			}
			break
		}
		select {
		case tickCh <- t:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(readerDone)
	m.stream.Close()
	<-watcherDone
}

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	log.Printf("[connmgr] state → %s", s)
	if m.OnStateChange != nil {
		m.OnStateChange(s)
	}
}

// sleep waits d or until ctx is cancelled; reports whether to continue.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
