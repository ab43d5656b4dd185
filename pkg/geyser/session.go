package geyser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Phase names the session step a fatal error came from.
type Phase string

const (
	PhaseConnect   Phase = "connect"
	PhaseSubscribe Phase = "subscribe"
	PhaseReceive   Phase = "receive"
)

// Sentinels matched by SessionError through errors.Is.
var (
	ErrConnect       = errors.New("geyser connect failed")
	ErrSubscribeSend = errors.New("geyser subscribe send failed")
	ErrReceive       = errors.New("geyser receive failed")
)

// SessionError is a fatal session failure tagged with its phase.
type SessionError struct {
	Phase Phase
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s phase: %v", e.Phase, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Is maps the phase to its sentinel.
func (e *SessionError) Is(target error) bool {
	switch target {
	case ErrConnect:
		return e.Phase == PhaseConnect
	case ErrSubscribeSend:
		return e.Phase == PhaseSubscribe
	case ErrReceive:
		return e.Phase == PhaseReceive
	}
	return false
}

// Session runs one subscription from connect to end of stream.
// There is no reconnection: the first fatal error ends Run.
type Session struct {
	config    Config
	filters   Filters
	handler   Handler
	dial      DialFunc
	log       zerolog.Logger
	now       func() time.Time
	newTicker TickerFunc
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces Dial, mainly for tests.
func WithDialer(dial DialFunc) Option {
	return func(s *Session) { s.dial = dial }
}

// WithLogger sets the logger for lifecycle and heartbeat messages.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.log = logger }
}

// WithClock sets the clock used for ping ids.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithTicker sets the heartbeat tick source.
func WithTicker(newTicker TickerFunc) Option {
	return func(s *Session) { s.newTicker = newTicker }
}

// NewSession creates a session. A nil handler logs every observation.
func NewSession(config Config, filters Filters, handler Handler, opts ...Option) *Session {
	s := &Session{
		config:    config.WithDefaults(),
		filters:   filters,
		handler:   handler,
		dial:      Dial,
		log:       log.Logger,
		now:       time.Now,
		newTicker: NewTimeTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil {
		s.handler = NewLogHandler(s.log)
	}
	return s
}

// Run connects, subscribes and dispatches frames until the stream ends, ctx
// is cancelled, or a fatal error occurs. Fatal errors are *SessionError.
//
// Every goroutine Run starts has exited by the time it returns, so no
// request is written after that point.
func (s *Session) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info().Str("endpoint", s.config.Endpoint).Msg("Connecting to geyser endpoint")

	stream, err := s.dial(runCtx, s.config)
	if err != nil {
		return &SessionError{Phase: PhaseConnect, Err: err}
	}
	s.log.Info().Msg("Connected")

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		if err := stream.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Stream close")
		}
		s.log.Info().Msg("Session closed")
	}()

	outbox := NewOutbox(stream, DefaultOutboxDepth)
	wg.Add(1)
	go func() {
		defer wg.Done()
		outbox.Run(runCtx)
	}()

	req := BuildSubscribeRequest(s.filters)
	if err := outbox.Send(runCtx, req); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &SessionError{Phase: PhaseSubscribe, Err: err}
	}
	s.log.Info().
		Int("accounts", len(req.Accounts)).
		Int("transactions", len(req.Transactions)).
		Bool("slots", req.Slots != nil).
		Msg("Subscribed")

	heartbeat := NewHeartbeat(outbox, s.config.PingInterval, s.log)
	heartbeat.now = s.now
	heartbeat.newTicker = s.newTicker
	wg.Add(1)
	go func() {
		defer wg.Done()
		// failures are logged by the heartbeat and do not end the session
		_ = heartbeat.Run(runCtx)
	}()

	if err := NewDispatcher(s.handler, s.log).Run(runCtx, stream); err != nil {
		return &SessionError{Phase: PhaseReceive, Err: err}
	}

	if ctx.Err() != nil {
		s.log.Info().Msg("Shutting down")
	} else {
		s.log.Info().Msg("Stream ended")
	}
	return nil
}
