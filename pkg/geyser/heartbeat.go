package geyser

import (
	"context"
	"time"

	"github.com/fortiblox/geyserwatch/internal/telemetry"
	"github.com/rs/zerolog"
)

// Sender queues an outbound request and reports whether it was written.
type Sender interface {
	Send(ctx context.Context, req *SubscribeRequest) error
}

// Ticker delivers heartbeat ticks. time.Ticker is wrapped by NewTimeTicker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker with the given period.
type TickerFunc func(period time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the TickerFunc backed by time.NewTicker.
func NewTimeTicker(period time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(period)}
}

// Heartbeat sends a keepalive ping every period until a send fails.
//
// The ping id is the wall clock in Unix seconds at send time. It is not
// correlated with pongs; it only makes liveness visible in the logs.
type Heartbeat struct {
	sender    Sender
	period    time.Duration
	now       func() time.Time
	newTicker TickerFunc
	log       zerolog.Logger
}

// NewHeartbeat creates a heartbeat writing through sender.
func NewHeartbeat(sender Sender, period time.Duration, logger zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		sender:    sender,
		period:    period,
		now:       time.Now,
		newTicker: NewTimeTicker,
		log:       logger,
	}
}

// Run ticks until ctx is done or a send fails. A send failure is logged and
// returned; it is never retried.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := h.newTicker(h.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			id := uint64(h.now().Unix())
			if err := h.sender.Send(ctx, &SubscribeRequest{Ping: &Ping{ID: id}}); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				telemetry.PingsTotal.With(telemetry.PingFailed).Inc()
				h.log.Warn().Err(err).Uint64("id", id).Msg("Heartbeat ping failed, stopping heartbeat")
				return err
			}
			telemetry.PingsTotal.With(telemetry.PingSent).Inc()
			h.log.Debug().Uint64("id", id).Msg("Sent ping")
		}
	}
}
