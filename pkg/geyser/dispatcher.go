package geyser

import (
	"context"
	"errors"
	"io"

	"github.com/fortiblox/geyserwatch/internal/telemetry"
	"github.com/rs/zerolog"
)

// Receiver is the receive half of a Stream.
type Receiver interface {
	Recv() (*Frame, error)
}

// Dispatcher routes inbound frames to a Handler.
type Dispatcher struct {
	handler Handler
	log     zerolog.Logger
}

// NewDispatcher creates a dispatcher delivering to handler.
func NewDispatcher(handler Handler, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{handler: handler, log: logger}
}

// Dispatch hands every update in frame to the handler and returns the number
// of observations made. Each group is visited independently, and updates
// within a group keep their delivery order.
func (d *Dispatcher) Dispatch(frame *Frame) int {
	telemetry.FramesTotal.Inc()
	if frame == nil {
		return 0
	}

	n := 0

	for _, a := range frame.Accounts {
		d.handler.HandleAccount(a)
		n++
	}
	telemetry.ObservationsTotal.With(telemetry.KindAccount).Add(float64(len(frame.Accounts)))

	for _, t := range frame.Transactions {
		d.handler.HandleTransaction(t)
		n++
	}
	telemetry.ObservationsTotal.With(telemetry.KindTransaction).Add(float64(len(frame.Transactions)))

	for _, s := range frame.Slots {
		d.handler.HandleSlot(s)
		telemetry.LastSlot.Set(float64(s.Slot))
		n++
	}
	telemetry.ObservationsTotal.With(telemetry.KindSlot).Add(float64(len(frame.Slots)))

	if frame.Pong != nil {
		d.handler.HandlePong(*frame.Pong)
		telemetry.ObservationsTotal.With(telemetry.KindPong).Inc()
		n++
	}

	if frame.ServerPing {
		d.log.Debug().Msg("Server ping")
	}

	return n
}

// Run receives and dispatches frames until the stream ends.
//
// A clean end of stream, or a receive failure caused by ctx being cancelled,
// returns nil. Any other receive failure is returned as is.
func (d *Dispatcher) Run(ctx context.Context, r Receiver) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := r.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		d.Dispatch(frame)
	}
}
