package service

import (
	"context"

	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
)

// AddInput is a key to add to an identity.
type AddInput struct {
	Identity     id.IdentityID
	KeyType      id.KeyType
	Key          []byte
	MetadataType id.MetadataType
	Metadata     []byte
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "key is required")
	}
	return nil
}

// Add adds a key to an identity the caller owns.
func (s *Service) Add(ctx context.Context, caller id.Address, in AddInput) error {
	if err := validateKey(in.Key); err != nil {
		return err
	}
	return s.mutate(ctx, "add", caller, func(t *txn) error {
		if err := t.requireUnpaused(); err != nil {
			return err
		}
		if err := s.authorizer.Direct(ctx, caller, in.Identity); err != nil {
			return err
		}
		return s.addKey(ctx, t, in, true)
	})
}

// AddFor adds a key on behalf of an owner who signed the request. Any caller
// may relay it.
func (s *Service) AddFor(ctx context.Context, caller id.Address, auth authz.AddAuthorization) error {
	if err := validateKey(auth.Key); err != nil {
		return err
	}
	return s.mutate(ctx, "add_for", caller, func(t *txn) error {
		if err := t.requireUnpaused(); err != nil {
			return err
		}
		identity, err := s.authorizer.AuthorizeAdd(ctx, t.st, auth)
		if err != nil {
			return err
		}
		return s.addKey(ctx, t, AddInput{
			Identity:     identity,
			KeyType:      auth.KeyType,
			Key:          auth.Key,
			MetadataType: auth.MetadataType,
			Metadata:     auth.Metadata,
		}, true)
	})
}

// GatewayAdd adds a key to owner's identity. Only the configured gateway may
// call it; the gateway has already authorised the owner.
func (s *Service) GatewayAdd(ctx context.Context, caller, owner id.Address, keyType id.KeyType, key []byte, metadataType id.MetadataType, metadata []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.mutate(ctx, "gateway_add", caller, func(t *txn) error {
		if err := t.requireUnpaused(); err != nil {
			return err
		}
		if err := authz.Gateway(t.settings, caller); err != nil {
			return err
		}
		identity, err := s.authorizer.IdentityOf(ctx, owner)
		if err != nil {
			return err
		}
		return s.addKey(ctx, t, AddInput{
			Identity:     identity,
			KeyType:      keyType,
			Key:          key,
			MetadataType: metadataType,
			Metadata:     metadata,
		}, true)
	})
}

// Remove marks a key the caller's identity holds as REMOVED.
func (s *Service) Remove(ctx context.Context, caller id.Address, identity id.IdentityID, key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.mutate(ctx, "remove", caller, func(t *txn) error {
		if err := t.requireUnpaused(); err != nil {
			return err
		}
		if err := s.authorizer.Direct(ctx, caller, identity); err != nil {
			return err
		}
		return s.removeKey(ctx, t, identity, key)
	})
}

// RemoveFor removes a key on behalf of an owner who signed the request.
func (s *Service) RemoveFor(ctx context.Context, caller id.Address, auth authz.RemoveAuthorization) error {
	if err := validateKey(auth.Key); err != nil {
		return err
	}
	return s.mutate(ctx, "remove_for", caller, func(t *txn) error {
		if err := t.requireUnpaused(); err != nil {
			return err
		}
		identity, err := s.authorizer.AuthorizeRemove(ctx, t.st, auth)
		if err != nil {
			return err
		}
		return s.removeKey(ctx, t, identity, auth.Key)
	})
}

// UseNonce consumes the caller's current nonce, invalidating every
// outstanding signature made with it. It returns the new nonce.
func (s *Service) UseNonce(ctx context.Context, caller id.Address) (uint64, error) {
	if caller.IsZero() {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "caller is required")
	}
	var next uint64
	err := s.mutate(ctx, "use_nonce", caller, func(t *txn) error {
		used, err := t.st.UseNonce(ctx, caller)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume nonce")
		}
		next = used + 1
		return nil
	})
	return next, err
}

// addKey applies NULL -> ADDED: state, then validator, then capacity.
func (s *Service) addKey(ctx context.Context, t *txn, in AddInput, validate bool) error {
	hash := id.HashKey(in.Key)
	rec, err := t.st.Get(ctx, in.Identity, hash)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load key")
	}
	if err := rec.CanAdd(); err != nil {
		return err
	}
	if validate {
		mappings, err := t.st.LoadValidators(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load validators")
		}
		slot := models.ValidatorSlot{KeyType: in.KeyType, MetadataType: in.MetadataType}
		if err := s.validators.Dispatch(ctx, mappings, slot, in.Identity, in.Key, in.Metadata); err != nil {
			return err
		}
	}
	if err := checkCapacity(ctx, t, in.Identity); err != nil {
		return err
	}
	rec.ApplyAdd(in.KeyType)
	if err := t.st.Put(ctx, models.KeyRef{Identity: in.Identity, Hash: hash, Key: in.Key}, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store key")
	}
	return t.emit(ctx, events.Add(t.caller, t.now, in.Identity, in.KeyType, in.Key, in.MetadataType, in.Metadata))
}

func checkCapacity(ctx context.Context, t *txn, identity id.IdentityID) error {
	if !t.settings.CapacityEnabled() {
		return nil
	}
	n, err := t.st.CountKeys(ctx, identity, models.KeyStateAdded)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count keys")
	}
	if n >= int(t.settings.MaxKeysPerIdentity) {
		return dErrors.New(dErrors.CodeCapacityExceeded, "identity has the maximum number of keys")
	}
	return nil
}

func (s *Service) removeKey(ctx context.Context, t *txn, identity id.IdentityID, key []byte) error {
	hash := id.HashKey(key)
	rec, err := t.st.Get(ctx, identity, hash)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load key")
	}
	if err := rec.CanRemove(); err != nil {
		return err
	}
	rec.ApplyRemove()
	if err := t.st.Put(ctx, models.KeyRef{Identity: identity, Hash: hash, Key: key}, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store key")
	}
	return t.emit(ctx, events.Remove(t.caller, t.now, identity, key))
}
