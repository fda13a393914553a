package service

import (
	"context"

	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/migration"
	"keyregistry/internal/keyregistry/models"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
	"keyregistry/pkg/requestcontext"
)

// Migrate starts the grace period. Migrator only, once, while paused.
func (s *Service) Migrate(ctx context.Context, caller id.Address) error {
	return s.mutate(ctx, "migrate", caller, func(t *txn) error {
		if err := authz.Migrator(t.settings, caller); err != nil {
			return err
		}
		if err := s.migration.CanMigrate(t.settings.Migration); err != nil {
			return err
		}
		if err := t.requirePaused(); err != nil {
			return err
		}
		s.migration.ApplyMigrate(&t.settings.Migration, t.now)
		if err := t.saveSettings(ctx); err != nil {
			return err
		}
		return t.emit(ctx, events.Migrated(caller, t.settings.Migration.MigratedAt, t.settings.Migration.GracePeriod))
	})
}

// migrationGate checks, in order: the window (closed fails for everyone),
// the migrator role, and the pause flag.
func (s *Service) migrationGate(t *txn) error {
	if err := s.migration.CheckWindow(t.settings.Migration, t.now); err != nil {
		return err
	}
	if err := authz.Migrator(t.settings, t.caller); err != nil {
		return err
	}
	return t.requirePaused()
}

// BulkAddForMigration seeds historical keys without signature or validator
// checks. Any key not in NULL aborts the whole batch.
func (s *Service) BulkAddForMigration(ctx context.Context, caller id.Address, items []models.BulkAddItem) error {
	if err := models.ValidateBulkAdd(items); err != nil {
		return err
	}
	return s.mutate(ctx, "bulk_add_for_migration", caller, func(t *txn) error {
		if err := s.migrationGate(t); err != nil {
			return err
		}
		for _, item := range items {
			for _, k := range item.Keys {
				err := s.addKey(ctx, t, AddInput{
					Identity:     item.Identity,
					KeyType:      models.MigrationKeyType,
					Key:          k.Key,
					MetadataType: models.MigrationMetadataType,
					Metadata:     k.Metadata,
				}, false)
				if err != nil {
					return batchError(err, item.Identity)
				}
			}
		}
		return nil
	})
}

// BulkResetForMigration returns ADDED keys to NULL. Any key not ADDED aborts
// the whole batch.
func (s *Service) BulkResetForMigration(ctx context.Context, caller id.Address, items []models.BulkResetItem) error {
	if err := models.ValidateBulkReset(items); err != nil {
		return err
	}
	return s.mutate(ctx, "bulk_reset_for_migration", caller, func(t *txn) error {
		if err := s.migrationGate(t); err != nil {
			return err
		}
		for _, item := range items {
			for _, key := range item.Keys {
				if err := s.resetKey(ctx, t, item.Identity, key); err != nil {
					return batchError(err, item.Identity)
				}
			}
		}
		return nil
	})
}

func (s *Service) resetKey(ctx context.Context, t *txn, identity id.IdentityID, key []byte) error {
	hash := id.HashKey(key)
	rec, err := t.st.Get(ctx, identity, hash)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load key")
	}
	if err := rec.CanReset(); err != nil {
		return err
	}
	rec.ApplyReset()
	if err := t.st.Put(ctx, models.KeyRef{Identity: identity, Hash: hash, Key: key}, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store key")
	}
	return t.emit(ctx, events.AdminReset(t.caller, t.now, identity, key))
}

// batchError keeps the item's code and names the failing identity.
func batchError(err error, identity id.IdentityID) error {
	code := dErrors.CodeOf(err)
	return dErrors.Wrap(err, code, "batch item for identity "+identity.String()+": "+dErrors.MessageOf(err))
}

// MigrationStatus reports the current phase of the migration window.
func (s *Service) MigrationStatus(ctx context.Context) (migration.Status, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return migration.Status{}, err
	}
	return s.migration.Status(settings.Migration, requestcontext.Now(ctx)), nil
}
