// Package supervisor keeps a long-lived stream connection alive.
//
// A [Conn] blocks inside Connect while it streams and reports its lifecycle
// through [Hooks]. The [Supervisor] owns an explicit liveness flag driven by
// those hooks and, on a fixed interval, re-issues Connect whenever the flag
// is down and no attempt is in flight. Cancelling the context closes the
// connection and waits for Connect to return.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the liveness check period.
const DefaultInterval = 10 * time.Second

// Hooks are the lifecycle callbacks a Conn invokes.
type Hooks struct {
	// OnConnect is called once the stream is open and events can flow.
	OnConnect func()
	// OnDisconnect is called when the stream ends, with the cause.
	OnDisconnect func(err error)
}

// Conn is a streaming connection.
type Conn interface {
	// Name identifies the connection in logs.
	Name() string
	// Connect opens the stream and blocks until it ends or ctx is done.
	Connect(ctx context.Context, hooks Hooks) error
	// Close tears down an open stream so a blocked Connect returns.
	Close() error
}

// State is the connection state seen by the supervisor.
type State int32

const (
	Disconnected State = iota
	Connecting
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	}
	return "unknown"
}

// Supervisor reconnects a Conn whenever it is found dead.
type Supervisor struct {
	conn     Conn
	interval time.Duration
	log      *slog.Logger

	alive    atomic.Bool
	inFlight atomic.Bool
	attempts atomic.Int64
	wg       sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithInterval overrides [DefaultInterval].
func WithInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// New returns a Supervisor for conn.
func New(conn Conn, log *slog.Logger, opts ...Option) *Supervisor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Supervisor{
		conn:     conn,
		interval: DefaultInterval,
		log:      log.With("stream", conn.Name()),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Alive reports whether the stream is currently open.
func (s *Supervisor) Alive() bool { return s.alive.Load() }

// Attempts returns how many times Connect has been issued.
func (s *Supervisor) Attempts() int64 { return s.attempts.Load() }

// State returns the current connection state.
func (s *Supervisor) State() State {
	switch {
	case s.alive.Load():
		return Streaming
	case s.inFlight.Load():
		return Connecting
	}
	return Disconnected
}

// Run connects immediately and then checks liveness every interval until ctx
// is cancelled. It always returns nil after a clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	s.start(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("shutting down stream")
			if err := s.conn.Close(); err != nil {
				s.log.Debug("close stream", "error", err)
			}
			s.wg.Wait()
			return nil
		case <-ticker.C:
			if ctx.Err() != nil || s.alive.Load() || s.inFlight.Load() {
				continue
			}
			s.log.Warn("stream is not alive, reconnecting")
			s.start(ctx)
		}
	}
}

func (s *Supervisor) start(ctx context.Context) {
	if ctx.Err() != nil || !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	n := s.attempts.Add(1)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)

		s.log.Info("connecting", "attempt", n)
		err := s.conn.Connect(ctx, Hooks{
			OnConnect: func() {
				s.alive.Store(true)
				s.log.Info("stream connected")
			},
			OnDisconnect: func(err error) {
				s.alive.Store(false)
				s.log.Warn("stream disconnected", "error", err)
			},
		})
		s.alive.Store(false)

		switch {
		case ctx.Err() != nil:
		case err == nil:
			s.log.Info("stream ended")
		case errors.Is(err, context.Canceled):
		default:
			s.log.Error("stream failed", "error", err)
		}
	}()
}
