package mirror

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	id "keyregistry/pkg/domain"
)

const (
	defaultKeyPrefix  = "keyregistry:mirror"
	defaultMaxRetries = 10
)

// Redis is a Backend shared by several mirror processes. Every accepted
// event bumps the sequence key, so watching it alone serialises writers.
type Redis struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

// RedisOption configures a Redis backend.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces all keys, so tests and deployments can share a server.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		prefix:     defaultKeyPrefix,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Redis) seqKey() string        { return r.prefix + ":seq" }
func (r *Redis) migratedAtKey() string { return r.prefix + ":migrated_at" }
func (r *Redis) graceKey() string      { return r.prefix + ":grace_period" }

func (r *Redis) stateKey(identity id.IdentityID) string {
	return r.prefix + ":id:" + identity.String() + ":state"
}

func (r *Redis) orderKey(identity id.IdentityID) string {
	return r.prefix + ":id:" + identity.String() + ":order"
}

func (r *Redis) Apply(ctx context.Context, e events.Event, decide func(View) (Change, error)) error {
	watched := []string{r.seqKey(), r.migratedAtKey()}
	if e.KeyHash != nil {
		watched = append(watched, r.stateKey(e.Identity))
	}

	txf := func(tx *redis.Tx) error {
		v, seen, err := r.view(ctx, tx, e)
		if err != nil {
			return err
		}
		change, err := decide(v)
		if IsDuplicate(err) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if change.State != nil {
				field := e.KeyHash.String()
				if !seen {
					pipe.RPush(ctx, r.orderKey(e.Identity), field)
				}
				pipe.HSet(ctx, r.stateKey(e.Identity), field, change.State.String())
			}
			if change.MigratedAt != nil {
				pipe.Set(ctx, r.migratedAtKey(), change.MigratedAt.UnixNano(), 0)
				pipe.Set(ctx, r.graceKey(), int64(change.GracePeriod), 0)
			}
			pipe.Set(ctx, r.seqKey(), e.Seq, 0)
			return nil
		})
		return err
	}

	for range r.maxRetries {
		err := r.client.Watch(ctx, txf, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("apply event %d: too much contention", e.Seq)
}

func (r *Redis) view(ctx context.Context, tx *redis.Tx, e events.Event) (View, bool, error) {
	var v View
	seq, err := readUint(ctx, tx, r.seqKey())
	if err != nil {
		return v, false, err
	}
	v.LastSeq = seq

	at, err := tx.Get(ctx, r.migratedAtKey()).Int64()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return v, false, fmt.Errorf("read migrated_at: %w", err)
	default:
		v.Migrated = true
		v.MigratedAt = time.Unix(0, at).UTC()
		grace, err := tx.Get(ctx, r.graceKey()).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return v, false, fmt.Errorf("read grace_period: %w", err)
		}
		v.GracePeriod = time.Duration(grace)
	}

	if e.KeyHash == nil {
		return v, false, nil
	}
	raw, err := tx.HGet(ctx, r.stateKey(e.Identity), e.KeyHash.String()).Result()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("read key state: %w", err)
	}
	v.State, err = models.ParseKeyState(raw)
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

func readUint(ctx context.Context, c redis.Cmdable, key string) (uint64, error) {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func (r *Redis) LastSeq(ctx context.Context) (uint64, error) {
	return readUint(ctx, r.client, r.seqKey())
}

func (r *Redis) State(ctx context.Context, identity id.IdentityID, hash id.KeyHash) (models.KeyState, error) {
	raw, err := r.client.HGet(ctx, r.stateKey(identity), hash.String()).Result()
	if errors.Is(err, redis.Nil) {
		return models.KeyStateNull, nil
	}
	if err != nil {
		return models.KeyStateNull, err
	}
	return models.ParseKeyState(raw)
}

func (r *Redis) Keys(ctx context.Context, identity id.IdentityID, state models.KeyState) ([]id.KeyHash, error) {
	order, err := r.client.LRange(ctx, r.orderKey(identity), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, nil
	}
	states, err := r.client.HMGet(ctx, r.stateKey(identity), order...).Result()
	if err != nil {
		return nil, err
	}
	var out []id.KeyHash
	for i, raw := range states {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		st, err := models.ParseKeyState(s)
		if err != nil {
			return nil, err
		}
		if st != state {
			continue
		}
		h, err := id.ParseKeyHash(order[i])
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
