package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier accepts events without blocking the caller.
type Notifier interface {
	Notify(ev Event)
}

// Sender delivers one rendered mail.
type Sender interface {
	Send(ctx context.Context, m Mail) error
}

const (
	DefaultQueueSize   = 64
	defaultSendTimeout = 10 * time.Second
)

// Dispatcher queues events on a buffered channel and delivers them from a
// single goroutine. A full queue drops the event with a warning.
type Dispatcher struct {
	sender      Sender
	log         *slog.Logger
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewDispatcher(sender Sender, queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sender:      sender,
		log:         logger.With("component", "notify"),
		sendTimeout: defaultSendTimeout,
		queue:       make(chan Event, queueSize),
		done:        make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Notify(ev Event) {
	if ev.To == "" {
		d.log.Debug("notification skipped, no recipient", "event", ev.Type, "entity_id", ev.EntityID)
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dropped, dispatcher closed", "event", ev.Type, "entity_id", ev.EntityID)
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.log.Warn("notification dropped, queue full", "event", ev.Type, "entity_id", ev.EntityID)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	m, err := Render(ev)
	if err != nil {
		d.log.Error("notification render failed", "event", ev.Type, "entity_id", ev.EntityID, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()
	if err := d.sender.Send(ctx, m); err != nil {
		d.log.Error("notification delivery failed", "event", ev.Type, "entity_id", ev.EntityID, "to", m.To, "err", err)
		return
	}
	d.log.Debug("notification delivered", "event", ev.Type, "entity_id", ev.EntityID, "to", m.To)
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
