package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Dosada05/tournament-standings/models"
)

const (
	defaultQueueSize = 1024
	deliveryTimeout  = 5 * time.Second
	drainTimeout     = 3 * time.Second
)

// Deliverer is a single notification channel: websocket rooms, a Redis stream.
type Deliverer interface {
	Deliver(ctx context.Context, event models.Event) error
}

// Dispatcher decouples services from delivery. Publish never blocks: when the
// queue is full the event is dropped and counted.
type Dispatcher struct {
	queue   chan models.Event
	targets []Deliverer
	logger  *slog.Logger
	dropped atomic.Int64
	done    chan struct{}
}

func NewDispatcher(logger *slog.Logger, queueSize int, targets ...Deliverer) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		queue:   make(chan models.Event, queueSize),
		targets: targets,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) Publish(event models.Event) {
	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event queue full, event dropped",
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)),
			slog.Int("tournament_id", event.TournamentID))
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// already queued within drainTimeout.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case event := <-d.queue:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case event := <-d.queue:
			d.deliver(ctx, event)
		default:
			return
		}
		if ctx.Err() != nil {
			d.logger.Warn("event drain timed out", slog.Int("remaining", len(d.queue)))
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event models.Event) {
	for _, target := range d.targets {
		deliverCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		err := target.Deliver(deliverCtx, event)
		cancel()
		if err != nil {
			d.logger.Error("event delivery failed",
				slog.String("event_id", event.ID),
				slog.String("type", string(event.Type)),
				slog.Any("error", err))
		}
	}
}
