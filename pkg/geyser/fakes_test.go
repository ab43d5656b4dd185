package geyser

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// fakeTicker delivers ticks only when the test pushes them.
type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time)}
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeTicker) factory() TickerFunc {
	return func(time.Duration) Ticker { return f }
}

// steppingClock advances by step on every read.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newSteppingClock(start time.Time, step time.Duration) *steppingClock {
	return &steppingClock{now: start, step: step}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// recordingSender records every request and fails from the failAt-th call on.
type recordingSender struct {
	mu     sync.Mutex
	reqs   []*SubscribeRequest
	calls  int
	failAt int
	err    error
}

func (s *recordingSender) Send(_ context.Context, req *SubscribeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAt > 0 && s.calls >= s.failAt {
		return s.err
	}
	s.reqs = append(s.reqs, req)
	return nil
}

func (s *recordingSender) requests() []*SubscribeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SubscribeRequest(nil), s.reqs...)
}

func (s *recordingSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errBrokenPipe = errors.New("broken pipe")

// fakeStream is an in-memory Stream. Frames pushed to inbound are returned
// by Recv; closing inbound ends the stream with io.EOF, and recvErr is
// returned instead once set.
type fakeStream struct {
	mu        sync.Mutex
	sent      []*SubscribeRequest
	sendErr   func(n int) error
	closed    bool
	sendAfter bool

	inbound chan *Frame
	recvErr chan error
	done    chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		inbound: make(chan *Frame, 16),
		recvErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (s *fakeStream) Send(req *SubscribeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.sendAfter = true
		return io.EOF
	}
	s.sent = append(s.sent, req)
	if s.sendErr != nil {
		return s.sendErr(len(s.sent))
	}
	return nil
}

func (s *fakeStream) Recv() (*Frame, error) {
	select {
	case err := <-s.recvErr:
		return nil, err
	case frame, ok := <-s.inbound:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-s.done:
		return nil, context.Canceled
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *fakeStream) sentRequests() []*SubscribeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SubscribeRequest(nil), s.sent...)
}

func (s *fakeStream) sentAfterClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendAfter
}

// recordingHandler keeps every observation in arrival order.
type recordingHandler struct {
	mu     sync.Mutex
	events []string
	slots  []uint64
	pongs  []uint64
	accts  []string
	txs    []string
	notify chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{notify: make(chan struct{}, 64)}
}

func (h *recordingHandler) record(kind string) {
	h.events = append(h.events, kind)
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *recordingHandler) HandleAccount(a AccountUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accts = append(h.accts, a.Pubkey)
	h.record("account")
}

func (h *recordingHandler) HandleTransaction(tx TransactionUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.txs = append(h.txs, tx.Signature)
	h.record("transaction")
}

func (h *recordingHandler) HandleSlot(s SlotUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots = append(h.slots, s.Slot)
	h.record("slot")
}

func (h *recordingHandler) HandlePong(p Pong) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pongs = append(h.pongs, p.ID)
	h.record("pong")
}

func (h *recordingHandler) eventList() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

// lineBuffer collects log output for assertions.
type lineBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *lineBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, l := range strings.Split(strings.TrimSpace(string(b.buf)), "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
