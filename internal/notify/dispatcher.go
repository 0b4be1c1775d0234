package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/upkab/approval-api/internal/metrics"
)

const publishTimeout = 5 * time.Second

// Publisher delivers events to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// Dispatcher decouples event delivery from the transaction that produced the
// event. Notify never blocks; delivery failures are logged and counted but
// never reach the caller.
type Dispatcher struct {
	queue      chan Event
	publishers []Publisher
	log        zerolog.Logger
}

// NewDispatcher creates a Dispatcher with a queue of size events.
func NewDispatcher(log zerolog.Logger, size int, publishers ...Publisher) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		queue:      make(chan Event, size),
		publishers: publishers,
		log:        log,
	}
}

// Notify enqueues e, dropping it if the queue is full.
func (d *Dispatcher) Notify(e Event) {
	select {
	case d.queue <- e:
	default:
		metrics.NotificationsDropped.Inc()
		d.log.Warn().
			Str("kind", string(e.Kind)).
			Str("entity_id", e.EntityID.String()).
			Str("action", e.Action).
			Msg("notification queue full, dropping event")
	}
}

// Run delivers queued events until ctx is done, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case e := <-d.queue:
			d.publish(ctx, e)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case e := <-d.queue:
			d.publish(context.Background(), e)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, e Event) {
	for _, p := range d.publishers {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		err := p.Publish(pctx, e)
		cancel()
		if err != nil {
			metrics.NotificationsFailed.WithLabelValues(p.Name()).Inc()
			d.log.Warn().Err(err).
				Str("publisher", p.Name()).
				Str("kind", string(e.Kind)).
				Str("entity_id", e.EntityID.String()).
				Str("action", e.Action).
				Msg("failed to publish approval event")
		}
	}
}
