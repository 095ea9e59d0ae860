package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/tasklane-core/internal/auth"
)

// DefaultQueueSize bounds the number of events awaiting delivery.
const DefaultQueueSize = 1024

// Sink delivers a security event to one destination.
type Sink interface {
	Name() string
	Write(ev auth.SecurityEvent) error
}

// Dispatcher implements auth.EventSink.
//
// Thread Safety:
//   - RecordSecurityEvent is safe for concurrent use.
//   - Run must be called once; Close stops intake and waits for Run to drain.
type Dispatcher struct {
	logger *slog.Logger
	sinks  []Sink
	queue  chan auth.SecurityEvent

	dropped   atomic.Int64
	started   atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	mu        sync.RWMutex // guards sends against Close
	closed    bool
}

var _ auth.EventSink = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over sinks. Nil sinks are skipped so
// optional integrations can be passed through unconditionally.
func NewDispatcher(logger *slog.Logger, queueSize int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	active := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}

	return &Dispatcher{
		logger:  logger,
		sinks:   active,
		queue:   make(chan auth.SecurityEvent, queueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// RecordSecurityEvent logs ev and queues it for the sinks without blocking.
func (d *Dispatcher) RecordSecurityEvent(ctx context.Context, ev auth.SecurityEvent) {
	d.log(ctx, ev)
	if len(d.sinks) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- ev:
	default:
		if d.dropped.Add(1) == 1 {
			d.logger.Warn("security event queue full, dropping events",
				"capacity", cap(d.queue),
			)
		}
	}
}

func (d *Dispatcher) log(ctx context.Context, ev auth.SecurityEvent) {
	level := slog.LevelInfo
	if IsFailure(ev.Type) {
		level = slog.LevelWarn
	}
	d.logger.Log(ctx, level, "security event",
		"event", string(ev.Type),
		"user_id", ev.UserID,
		"token_pair_id", ev.TokenPairID,
		"subject", ev.Subject,
		"remote_addr", ev.RemoteAddr,
	)
}

// Run delivers queued events until ctx is cancelled or Close is called,
// then drains whatever is still queued.
func (d *Dispatcher) Run(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	defer close(d.done)

	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			d.drain()
			return
		case <-d.closing:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev auth.SecurityEvent) {
	for _, s := range d.sinks {
		if err := s.Write(ev); err != nil {
			d.logger.Warn("security event delivery failed",
				"sink", s.Name(),
				"event", string(ev.Type),
				"error", err,
			)
		}
	}
}

// Close stops accepting events and waits for Run to drain the queue.
// If Run was never started the queue is drained by Close itself.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.closing)
	})

	// Never started: drain here so queued events are not lost.
	if d.started.CompareAndSwap(false, true) {
		d.drain()
		close(d.done)
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many events were discarded because the queue was
// full or the dispatcher was closed.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// IsFailure reports whether an event type records a rejected attempt.
func IsFailure(t auth.EventType) bool {
	switch t {
	case auth.EventLoginFailed, auth.EventTokenRejected, auth.EventElevationFailed:
		return true
	default:
		return false
	}
}
