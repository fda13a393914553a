package mirror

import (
	"context"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/outbox"
)

// Feed pages through the journal, as the registry's Events query does.
type Feed interface {
	Events(ctx context.Context, afterSeq uint64, limit int) ([]events.Event, error)
}

// Follow polls feed from the projection's last sequence and applies what it
// finds until ctx is cancelled. It is the broker-less way to keep a mirror
// current. Ordering violations and gaps stop it.
func (m *Mirror) Follow(ctx context.Context, feed Feed, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := m.catchUp(ctx, feed); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if logger != nil {
				logger.ErrorContext(ctx, "mirror stopped", "error", err)
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

const feedPageSize = 500

func (m *Mirror) catchUp(ctx context.Context, feed Feed) error {
	for {
		after, err := m.LastSeq(ctx)
		if err != nil {
			return err
		}
		page, err := feed.Events(ctx, after, feedPageSize)
		if err != nil {
			return err
		}
		if err := m.ApplyAll(ctx, page); err != nil {
			return err
		}
		if len(page) < feedPageSize {
			return nil
		}
	}
}

// Consume applies records from a Kafka consumer group, committing each
// fetch only after every record in it was applied.
func (m *Mirror) Consume(ctx context.Context, client *kgo.Client, logger *slog.Logger) error {
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			if logger != nil {
				logger.ErrorContext(ctx, "mirror fetch failed", "topic", topic, "partition", partition, "error", err)
			}
			fetchErr = err
		})
		if fetchErr != nil {
			continue
		}

		var applyErr error
		fetches.EachRecord(func(rec *kgo.Record) {
			if applyErr != nil {
				return
			}
			e, err := outbox.DecodeRecord(rec)
			if err != nil {
				applyErr = err
				return
			}
			applyErr = m.Apply(ctx, e)
		})
		if applyErr != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "mirror stopped", "error", applyErr)
			}
			return applyErr
		}
		if err := client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			if logger != nil {
				logger.WarnContext(ctx, "mirror commit failed", "error", err)
			}
		}
	}
}
