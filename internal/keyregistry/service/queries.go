package service

import (
	"context"
	"errors"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/keyregistry/store"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
	"keyregistry/pkg/platform/sentinel"
)

// KeyDataOf returns the record for a pair. A pair never touched is NULL.
func (s *Service) KeyDataOf(ctx context.Context, identity id.IdentityID, key []byte) (models.KeyRecord, error) {
	return s.KeyDataOfHash(ctx, identity, id.HashKey(key))
}

// KeyDataOfHash is KeyDataOf for callers that only hold the key hash.
func (s *Service) KeyDataOfHash(ctx context.Context, identity id.IdentityID, hash id.KeyHash) (models.KeyRecord, error) {
	var rec models.KeyRecord
	err := s.read(ctx, func(st store.Store) error {
		var err error
		rec, err = st.Get(ctx, identity, hash)
		return err
	})
	return rec, err
}

// KeysOf lists the keys of identity currently in state.
func (s *Service) KeysOf(ctx context.Context, identity id.IdentityID, state models.KeyState) ([]models.KeyRef, error) {
	if state == models.KeyStateNull {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "state must be added or removed")
	}
	var refs []models.KeyRef
	err := s.read(ctx, func(st store.Store) error {
		var err error
		refs, err = st.ListKeys(ctx, identity, state)
		return err
	})
	return refs, err
}

func (s *Service) TotalKeys(ctx context.Context, identity id.IdentityID, state models.KeyState) (int, error) {
	if state == models.KeyStateNull {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "state must be added or removed")
	}
	var n int
	err := s.read(ctx, func(st store.Store) error {
		var err error
		n, err = st.CountKeys(ctx, identity, state)
		return err
	})
	return n, err
}

// KeyAt returns the index-th key of identity in state, in transition order.
func (s *Service) KeyAt(ctx context.Context, identity id.IdentityID, state models.KeyState, index int) (models.KeyRef, error) {
	if state == models.KeyStateNull {
		return models.KeyRef{}, dErrors.New(dErrors.CodeInvalidInput, "state must be added or removed")
	}
	var ref models.KeyRef
	err := s.read(ctx, func(st store.Store) error {
		var err error
		ref, err = st.KeyAt(ctx, identity, state, index)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "index out of range")
		}
		return err
	})
	return ref, err
}

// Nonces returns the nonce the next signature from addr must use.
func (s *Service) Nonces(ctx context.Context, addr id.Address) (uint64, error) {
	var n uint64
	err := s.read(ctx, func(st store.Store) error {
		var err error
		n, err = st.NonceOf(ctx, addr)
		return err
	})
	return n, err
}

// Settings returns the governance settings.
func (s *Service) Settings(ctx context.Context) (models.Settings, error) {
	var settings models.Settings
	err := s.read(ctx, func(st store.Store) error {
		var err error
		settings, err = st.LoadSettings(ctx)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeInternal, "registry is not bootstrapped")
		}
		return err
	})
	return settings, err
}

// ValidatorOf returns the validator name mapped to slot, or "" when none is.
func (s *Service) ValidatorOf(ctx context.Context, slot models.ValidatorSlot) (string, error) {
	var name string
	err := s.read(ctx, func(st store.Store) error {
		mappings, err := st.LoadValidators(ctx)
		name = mappings[slot]
		return err
	})
	return name, err
}

// Page sizes for Events.
const (
	DefaultEventPageSize = 100
	MaxEventPageSize     = 1000
)

// Events pages through the journal after afterSeq.
func (s *Service) Events(ctx context.Context, afterSeq uint64, limit int) ([]events.Event, error) {
	switch {
	case limit <= 0:
		limit = DefaultEventPageSize
	case limit > MaxEventPageSize:
		limit = MaxEventPageSize
	}
	var out []events.Event
	err := s.read(ctx, func(st store.Store) error {
		var err error
		out, err = st.Events(ctx, afterSeq, limit)
		return err
	})
	return out, err
}
