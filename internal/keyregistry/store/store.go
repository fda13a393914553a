// Package store persists key records, nonces, governance settings, validator
// mappings and the event journal. Stores are pure I/O: domain rules live in
// the service, which runs every operation inside one RunInTx callback.
package store

import (
	"context"
	"time"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	id "keyregistry/pkg/domain"
)

// Store is the transactional view handed to RunInTx callbacks.
type Store interface {
	// Get never fails for a missing pair; absence is the zero (NULL) record.
	Get(ctx context.Context, identity id.IdentityID, hash id.KeyHash) (models.KeyRecord, error)
	Put(ctx context.Context, ref models.KeyRef, record models.KeyRecord) error
	// ListKeys returns keys currently in state, oldest transition first.
	ListKeys(ctx context.Context, identity id.IdentityID, state models.KeyState) ([]models.KeyRef, error)
	CountKeys(ctx context.Context, identity id.IdentityID, state models.KeyState) (int, error)
	// KeyAt returns the index-th entry of ListKeys, or sentinel.ErrNotFound
	// when index is out of range.
	KeyAt(ctx context.Context, identity id.IdentityID, state models.KeyState, index int) (models.KeyRef, error)

	NonceOf(ctx context.Context, addr id.Address) (uint64, error)
	// UseNonce consumes and returns the current nonce.
	UseNonce(ctx context.Context, addr id.Address) (uint64, error)

	// LoadSettings returns sentinel.ErrNotFound before the first SaveSettings.
	LoadSettings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, settings models.Settings) error

	LoadValidators(ctx context.Context) (map[models.ValidatorSlot]string, error)
	// SaveValidator with an empty name removes the mapping.
	SaveValidator(ctx context.Context, slot models.ValidatorSlot, name string) error

	// AppendEvent assigns event.Seq.
	AppendEvent(ctx context.Context, event *events.Event) error
	// LastEventAt is the OccurredAt of the newest event, zero for an empty journal.
	LastEventAt(ctx context.Context) (time.Time, error)
	Events(ctx context.Context, afterSeq uint64, limit int) ([]events.Event, error)
	PendingEvents(ctx context.Context, limit int) ([]events.Event, error)
	MarkPublished(ctx context.Context, seqs []uint64, at time.Time) error
}

// Tx runs fn atomically: if fn returns an error nothing it wrote is kept.
type Tx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

const defaultTxTimeout = 5 * time.Second
