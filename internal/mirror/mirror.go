// Package mirror is a reference indexer: it replays the registry's event
// stream into a projection of which keys each identity currently holds, and
// refuses any event that breaks the log's ordering guarantees.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	id "keyregistry/pkg/domain"
)

var (
	// ErrOrderingViolation means the event contradicts what the projection
	// has already seen, e.g. a second Add without an intervening Remove.
	ErrOrderingViolation = errors.New("event ordering violation")
	// ErrGap means events between the last applied sequence and this one are missing.
	ErrGap = errors.New("event sequence gap")
)

// View is what the backend knows before applying an event. GracePeriod is
// the length recorded by the Migrated event, zero if it carried none.
type View struct {
	LastSeq     uint64
	State       models.KeyState
	Migrated    bool
	MigratedAt  time.Time
	GracePeriod time.Duration
}

// Change is what an accepted event writes. Seq is always advanced.
// GracePeriod is only meaningful alongside MigratedAt.
type Change struct {
	State       *models.KeyState
	MigratedAt  *time.Time
	GracePeriod time.Duration
}

// Backend stores the projection. Apply must read the view and commit the
// change atomically with respect to other Apply calls.
type Backend interface {
	Apply(ctx context.Context, e events.Event, decide func(View) (Change, error)) error
	LastSeq(ctx context.Context) (uint64, error)
	State(ctx context.Context, identity id.IdentityID, hash id.KeyHash) (models.KeyState, error)
	Keys(ctx context.Context, identity id.IdentityID, state models.KeyState) ([]id.KeyHash, error)
}

// Mirror applies events to a Backend. gracePeriod is used only for a
// Migrated event that does not record its own.
type Mirror struct {
	backend     Backend
	gracePeriod time.Duration
}

func New(backend Backend, gracePeriod time.Duration) *Mirror {
	return &Mirror{backend: backend, gracePeriod: gracePeriod}
}

// Apply folds one event into the projection. Events at or below the last
// applied sequence are duplicates from at-least-once delivery and are skipped.
func (m *Mirror) Apply(ctx context.Context, e events.Event) error {
	if e.Type.IsKeyEvent() && (e.KeyHash == nil || e.Identity.IsNil()) {
		return fmt.Errorf("event %d: %w: key event without identity or key", e.Seq, ErrOrderingViolation)
	}
	return m.backend.Apply(ctx, e, func(v View) (Change, error) {
		return m.decide(e, v)
	})
}

// ApplyAll applies events in order and stops at the first failure.
func (m *Mirror) ApplyAll(ctx context.Context, evs []events.Event) error {
	for _, e := range evs {
		if err := m.Apply(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) LastSeq(ctx context.Context) (uint64, error) {
	return m.backend.LastSeq(ctx)
}

func (m *Mirror) State(ctx context.Context, identity id.IdentityID, hash id.KeyHash) (models.KeyState, error) {
	return m.backend.State(ctx, identity, hash)
}

func (m *Mirror) Keys(ctx context.Context, identity id.IdentityID, state models.KeyState) ([]id.KeyHash, error) {
	return m.backend.Keys(ctx, identity, state)
}

// errDuplicate tells a backend to skip the event without writing.
var errDuplicate = errors.New("duplicate event")

func (m *Mirror) decide(e events.Event, v View) (Change, error) {
	if e.Seq <= v.LastSeq {
		return Change{}, errDuplicate
	}
	if e.Seq != v.LastSeq+1 {
		return Change{}, fmt.Errorf("event %d after %d: %w", e.Seq, v.LastSeq, ErrGap)
	}
	to := func(s models.KeyState) Change { return Change{State: &s} }

	switch e.Type {
	case events.TypeAdd:
		if v.State != models.KeyStateNull {
			return Change{}, m.violation(e, v, "add of a key that is not null")
		}
		return to(models.KeyStateAdded), nil
	case events.TypeRemove:
		if v.State != models.KeyStateAdded {
			return Change{}, m.violation(e, v, "remove without a preceding add")
		}
		return to(models.KeyStateRemoved), nil
	case events.TypeAdminReset:
		if v.State != models.KeyStateAdded {
			return Change{}, m.violation(e, v, "reset of a key that is not added")
		}
		if v.Migrated && e.OccurredAt.After(v.MigratedAt.Add(m.window(v))) {
			return Change{}, m.violation(e, v, "reset after the migration window closed")
		}
		return to(models.KeyStateNull), nil
	case events.TypeMigrated:
		if v.Migrated {
			return Change{}, m.violation(e, v, "second migration")
		}
		at := e.OccurredAt
		grace, _ := e.GracePeriod()
		return Change{MigratedAt: &at, GracePeriod: grace}, nil
	default:
		return Change{}, nil
	}
}

func (m *Mirror) window(v View) time.Duration {
	if v.GracePeriod > 0 {
		return v.GracePeriod
	}
	return m.gracePeriod
}

func (m *Mirror) violation(e events.Event, v View, msg string) error {
	return fmt.Errorf("event %d %s (state %s): %s: %w", e.Seq, e.Type, v.State, msg, ErrOrderingViolation)
}

// IsDuplicate reports whether a backend should treat err as a skip.
func IsDuplicate(err error) bool {
	return errors.Is(err, errDuplicate)
}
