package geyser

import (
	"context"
	"errors"
)

// ErrOutboxClosed is returned by Outbox.Send once Run has returned.
var ErrOutboxClosed = errors.New("geyser outbox closed")

// DefaultOutboxDepth is the number of requests that may queue ahead of the writer.
const DefaultOutboxDepth = 4

// requestWriter is the send half of a Stream.
type requestWriter interface {
	Send(req *SubscribeRequest) error
}

type outboxItem struct {
	req    *SubscribeRequest
	result chan error
}

// Outbox serializes every outbound request onto the stream.
//
// Run is the only goroutine that calls Send on the underlying stream, so the
// subscription request and heartbeat pings never write concurrently.
type Outbox struct {
	writer requestWriter
	queue  chan outboxItem
	done   chan struct{}
}

// NewOutbox creates an outbox writing to w.
func NewOutbox(w requestWriter, depth int) *Outbox {
	if depth <= 0 {
		depth = DefaultOutboxDepth
	}
	return &Outbox{
		writer: w,
		queue:  make(chan outboxItem, depth),
		done:   make(chan struct{}),
	}
}

// Run writes queued requests in submission order until ctx is done.
func (o *Outbox) Run(ctx context.Context) {
	defer close(o.done)

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-o.queue:
			item.result <- o.writer.Send(item.req)
		}
	}
}

// Send queues req and waits for the writer's result.
func (o *Outbox) Send(ctx context.Context, req *SubscribeRequest) error {
	item := outboxItem{req: req, result: make(chan error, 1)}

	select {
	case <-o.done:
		return ErrOutboxClosed
	case <-ctx.Done():
		return ctx.Err()
	case o.queue <- item:
	}

	select {
	case err := <-item.result:
		return err
	case <-o.done:
		// Run may have finished the write just before exiting.
		select {
		case err := <-item.result:
			return err
		default:
			return ErrOutboxClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
