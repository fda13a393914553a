// Package outbox relays committed journal events to Kafka. Delivery is
// at-least-once: an event is marked published only after the broker acked it,
// and consumers drop duplicates by sequence number.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"keyregistry/internal/keyregistry/events"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Source is the journal side of the outbox.
type Source interface {
	PendingEvents(ctx context.Context, limit int) ([]events.Event, error)
	MarkPublished(ctx context.Context, seqs []uint64, at time.Time) error
}

// Publisher delivers a batch in order. It returns only after every event is
// durably accepted, or with an error if any was not.
type Publisher interface {
	Publish(ctx context.Context, evs []events.Event) error
}

// Relay moves pending events from a Source to a Publisher.
type Relay struct {
	source    Source
	publisher Publisher
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	published prometheus.Counter
	failures  prometheus.Counter
	now       func() time.Time
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithRegisterer registers the relay's counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Relay) {
		f := promauto.With(reg)
		r.published = f.NewCounter(prometheus.CounterOpts{
			Name: "keyregistry_outbox_published_total",
			Help: "Journal events acknowledged by the broker",
		})
		r.failures = f.NewCounter(prometheus.CounterOpts{
			Name: "keyregistry_outbox_failures_total",
			Help: "Relay rounds that failed to publish or mark events",
		})
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

func NewRelay(source Source, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		publisher: publisher,
		batchSize: defaultBatchSize,
		interval:  defaultPollInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled. Failed rounds are logged and retried on
// the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if r.failures != nil {
					r.failures.Inc()
				}
				if r.logger != nil {
					r.logger.ErrorContext(ctx, "outbox relay round failed", "error", err)
				}
				break
			}
			// A full batch means more may be waiting.
			if n < r.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce publishes up to one batch and returns how many events it relayed.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.source.PendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := r.publisher.Publish(ctx, pending); err != nil {
		return 0, err
	}
	seqs := make([]uint64, len(pending))
	for i, e := range pending {
		seqs[i] = e.Seq
	}
	if err := r.source.MarkPublished(ctx, seqs, r.now().UTC()); err != nil {
		// Already delivered; the next round re-sends and consumers dedupe.
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if r.published != nil {
		r.published.Add(float64(len(pending)))
	}
	if r.logger != nil {
		r.logger.DebugContext(ctx, "outbox relayed events",
			"count", len(pending),
			"first_seq", seqs[0],
			"last_seq", seqs[len(seqs)-1],
		)
	}
	return len(pending), nil
}
