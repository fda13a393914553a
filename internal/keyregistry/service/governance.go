package service

import (
	"context"
	"strconv"

	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
)

// SetValidator maps a (keyType, metadataType) slot to a catalog validator.
// An empty name removes the mapping.
func (s *Service) SetValidator(ctx context.Context, caller id.Address, slot models.ValidatorSlot, name string) error {
	if name != "" && !s.knownValidator(name) {
		return dErrors.New(dErrors.CodeValidatorNotFound, "unknown validator "+name)
	}
	return s.mutate(ctx, "set_validator", caller, func(t *txn) error {
		if err := authz.Owner(t.settings, caller); err != nil {
			return err
		}
		mappings, err := t.st.LoadValidators(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load validators")
		}
		if err := t.st.SaveValidator(ctx, slot, name); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save validator")
		}
		attrs := events.Change(mappings[slot], name)
		attrs["key_type"] = strconv.FormatUint(uint64(slot.KeyType), 10)
		attrs["metadata_type"] = strconv.FormatUint(uint64(slot.MetadataType), 10)
		return t.emit(ctx, events.Governance(events.TypeSetValidator, caller, t.now, attrs))
	})
}

func (s *Service) knownValidator(name string) bool {
	for _, n := range s.validators.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// SetMaxKeysPerIdentity raises the capacity cap. Lowering it is rejected so
// no identity is ever left above the cap. The guard is switched on only at
// bootstrap: while it is disabled every identity may already hold any number
// of keys, so any finite value would lower the effective cap.
func (s *Service) SetMaxKeysPerIdentity(ctx context.Context, caller id.Address, limit uint32) error {
	return s.mutate(ctx, "set_max_keys_per_identity", caller, func(t *txn) error {
		if err := authz.Owner(t.settings, caller); err != nil {
			return err
		}
		if !t.settings.CapacityEnabled() {
			return dErrors.New(dErrors.CodeInvalidState, "capacity guard is disabled")
		}
		old := t.settings.MaxKeysPerIdentity
		if limit <= old {
			return dErrors.New(dErrors.CodeInvalidInput, "max keys per identity can only increase")
		}
		t.settings.MaxKeysPerIdentity = limit
		if err := t.saveSettings(ctx); err != nil {
			return err
		}
		return t.emit(ctx, events.Governance(events.TypeSetMaxKeysPerIdentity, caller, t.now,
			events.Change(strconv.FormatUint(uint64(old), 10), strconv.FormatUint(uint64(limit), 10))))
	})
}

// SetGateway replaces the gateway until it is frozen.
func (s *Service) SetGateway(ctx context.Context, caller, gateway id.Address) error {
	return s.mutate(ctx, "set_gateway", caller, func(t *txn) error {
		if err := authz.Owner(t.settings, caller); err != nil {
			return err
		}
		if t.settings.GatewayFrozen {
			return dErrors.New(dErrors.CodeGatewayFrozen, "gateway is frozen")
		}
		old := t.settings.Gateway
		t.settings.Gateway = gateway
		if err := t.saveSettings(ctx); err != nil {
			return err
		}
		return t.emit(ctx, events.Governance(events.TypeSetGateway, caller, t.now,
			events.Change(old.String(), gateway.String())))
	})
}

// FreezeGateway makes the current gateway permanent.
func (s *Service) FreezeGateway(ctx context.Context, caller id.Address) error {
	return s.mutate(ctx, "freeze_gateway", caller, func(t *txn) error {
		if err := authz.Owner(t.settings, caller); err != nil {
			return err
		}
		if t.settings.GatewayFrozen {
			return dErrors.New(dErrors.CodeGatewayFrozen, "gateway is already frozen")
		}
		t.settings.GatewayFrozen = true
		if err := t.saveSettings(ctx); err != nil {
			return err
		}
		return t.emit(ctx, events.Governance(events.TypeFreezeGateway, caller, t.now,
			map[string]string{"gateway": t.settings.Gateway.String()}))
	})
}

// SetMigrator replaces the migrator. Only allowed before migration.
func (s *Service) SetMigrator(ctx context.Context, caller, migrator id.Address) error {
	return s.mutate(ctx, "set_migrator", caller, func(t *txn) error {
		if err := authz.Owner(t.settings, caller); err != nil {
			return err
		}
		if err := s.migration.CanMigrate(t.settings.Migration); err != nil {
			return err
		}
		old := t.settings.Migrator
		t.settings.Migrator = migrator
		if err := t.saveSettings(ctx); err != nil {
			return err
		}
		return t.emit(ctx, events.Governance(events.TypeSetMigrator, caller, t.now,
			events.Change(old.String(), migrator.String())))
	})
}

func (s *Service) AddGuardian(ctx context.Context, caller, guardian id.Address) error {
	if guardian.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "guardian is required")
	}
	return s.mutate(ctx, "add_guardian", caller, func(t *txn) error {
		if err := authz.Owner(t.settings, caller); err != nil {
			return err
		}
		if !t.settings.AddGuardian(guardian) {
			return nil
		}
		if err := t.saveSettings(ctx); err != nil {
			return err
		}
		return t.emit(ctx, events.Governance(events.TypeAddGuardian, caller, t.now,
			map[string]string{"guardian": guardian.String()}))
	})
}

func (s *Service) RemoveGuardian(ctx context.Context, caller, guardian id.Address) error {
	return s.mutate(ctx, "remove_guardian", caller, func(t *txn) error {
		if err := authz.Owner(t.settings, caller); err != nil {
			return err
		}
		if !t.settings.RemoveGuardian(guardian) {
			return dErrors.New(dErrors.CodeNotFound, "guardian not found")
		}
		if err := t.saveSettings(ctx); err != nil {
			return err
		}
		return t.emit(ctx, events.Governance(events.TypeRemoveGuardian, caller, t.now,
			map[string]string{"guardian": guardian.String()}))
	})
}

// Pause stops every user-facing key operation. Owner or guardian.
func (s *Service) Pause(ctx context.Context, caller id.Address) error {
	return s.mutate(ctx, "pause", caller, func(t *txn) error {
		if err := authz.OwnerOrGuardian(t.settings, caller); err != nil {
			return err
		}
		if t.settings.Paused {
			return dErrors.New(dErrors.CodePaused, "registry is already paused")
		}
		t.settings.Paused = true
		if err := t.saveSettings(ctx); err != nil {
			return err
		}
		return t.emit(ctx, events.Governance(events.TypePaused, caller, t.now, nil))
	})
}

// Unpause resumes operations. Owner only.
func (s *Service) Unpause(ctx context.Context, caller id.Address) error {
	return s.mutate(ctx, "unpause", caller, func(t *txn) error {
		if err := authz.Owner(t.settings, caller); err != nil {
			return err
		}
		if err := t.requirePaused(); err != nil {
			return err
		}
		t.settings.Paused = false
		if err := t.saveSettings(ctx); err != nil {
			return err
		}
		return t.emit(ctx, events.Governance(events.TypeUnpaused, caller, t.now, nil))
	})
}
