package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/migration"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/keyregistry/service"
	"keyregistry/internal/signer"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
)

type MigrationSuite struct {
	harness
}

func TestMigrationSuite(t *testing.T) {
	suite.Run(t, new(MigrationSuite))
}

func (s *MigrationSuite) TestMigrate() {
	s.Run("requires pause", func() {
		err := s.svc.Migrate(s.ctx(), s.migrator.Address())
		s.True(dErrors.HasCode(err, dErrors.CodeNotPaused))
	})

	s.Run("requires the migrator", func() {
		s.pause(s.ctx())
		err := s.svc.Migrate(s.ctx(), s.governor.Address())
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("runs once", func() {
		s.Require().NoError(s.svc.Migrate(s.ctx(), s.migrator.Address()))
		err := s.svc.Migrate(s.ctx(), s.migrator.Address())
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyMigrated))
	})

	s.Run("migrator is fixed afterwards", func() {
		err := s.svc.SetMigrator(s.ctx(), s.governor.Address(), s.newSigner().Address())
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyMigrated))
	})

	status, err := s.svc.MigrationStatus(s.ctx())
	s.Require().NoError(err)
	s.Equal(migration.PhaseGracePeriod, status.Phase)
	s.True(status.MigratedAt.Equal(s.t0))

	s.Equal(gracePeriod, status.GracePeriod)

	evs, err := s.svc.Events(s.ctx(), 0, 0)
	s.Require().NoError(err)
	last := evs[len(evs)-1]
	s.Equal(events.TypeMigrated, last.Type)
	recorded, ok := last.GracePeriod()
	s.True(ok)
	s.Equal(gracePeriod, recorded)
}

func (s *MigrationSuite) TestClosedWindowSurvivesLongerConfiguredGrace() {
	owner, identity := s.newOwner()
	key := s.newKey()
	s.Require().NoError(s.add(s.ctx(), owner.Address(), identity, key))
	s.pause(s.ctx())
	s.Require().NoError(s.svc.Migrate(s.ctx(), s.migrator.Address()))

	late := s.at(s.t0.Add(gracePeriod + time.Minute))
	items := []models.BulkResetItem{{Identity: identity, Keys: []id.HexBytes{key}}}

	err := s.svc.BulkResetForMigration(late, s.migrator.Address(), items)
	s.True(dErrors.HasCode(err, dErrors.CodePermissionRevoked), "got %v", err)

	verifier := signer.NewAccountVerifier(signer.NewAccountBook())
	restarted := service.New(s.store,
		authz.New(s.identities, verifier, s.domain),
		s.catalog,
		migration.New(1000*time.Hour),
	)
	err = restarted.BulkResetForMigration(late, s.migrator.Address(), items)
	s.True(dErrors.HasCode(err, dErrors.CodePermissionRevoked), "got %v", err)
	s.Equal(models.KeyStateAdded, s.state(identity, key))

	status, err := restarted.MigrationStatus(late)
	s.Require().NoError(err)
	s.Equal(migration.PhaseClosed, status.Phase)
	s.Equal(gracePeriod, status.GracePeriod)
}

func (s *MigrationSuite) TestSetMigratorBeforeMigration() {
	next := s.newSigner()
	s.Require().NoError(s.svc.SetMigrator(s.ctx(), s.governor.Address(), next.Address()))
	s.pause(s.ctx())
	err := s.svc.Migrate(s.ctx(), s.migrator.Address())
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Require().NoError(s.svc.Migrate(s.ctx(), next.Address()))
}

func (s *MigrationSuite) TestBulkOperationsAreAllOrNothing() {
	_, identity := s.newOwner()
	keyA, keyB := s.newKey(), s.newKey()
	s.pause(s.ctx())

	s.Require().NoError(s.svc.BulkAddForMigration(s.ctx(), s.migrator.Address(), []models.BulkAddItem{
		{Identity: identity, Keys: []models.BulkKey{{Key: keyA}}},
	}))

	s.Run("a non null key aborts the add batch", func() {
		err := s.svc.BulkAddForMigration(s.ctx(), s.migrator.Address(), []models.BulkAddItem{
			{Identity: identity, Keys: []models.BulkKey{{Key: keyB}, {Key: keyA}}},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState), "got %v", err)
		s.Equal(models.KeyStateNull, s.state(identity, keyB))
	})

	s.Run("duplicates inside one batch abort it", func() {
		err := s.svc.BulkAddForMigration(s.ctx(), s.migrator.Address(), []models.BulkAddItem{
			{Identity: identity, Keys: []models.BulkKey{{Key: keyB}, {Key: keyB}}},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Equal(models.KeyStateNull, s.state(identity, keyB))
	})

	s.Run("a non added key aborts the reset batch", func() {
		err := s.svc.BulkResetForMigration(s.ctx(), s.migrator.Address(), []models.BulkResetItem{
			{Identity: identity, Keys: []id.HexBytes{keyA, keyB}},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Equal(models.KeyStateAdded, s.state(identity, keyA))
	})

	s.Run("malformed batch", func() {
		err := s.svc.BulkResetForMigration(s.ctx(), s.migrator.Address(), nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidBatch))
	})

	s.Run("bulk add records the legacy key and metadata types", func() {
		rec, err := s.svc.KeyDataOf(s.ctx(), identity, keyA)
		s.Require().NoError(err)
		s.Equal(models.MigrationKeyType, rec.KeyType)
	})
}

func (s *MigrationSuite) TestBulkRequiresPauseAndMigrator() {
	_, identity := s.newOwner()
	items := []models.BulkAddItem{{Identity: identity, Keys: []models.BulkKey{{Key: s.newKey()}}}}

	err := s.svc.BulkAddForMigration(s.ctx(), s.migrator.Address(), items)
	s.True(dErrors.HasCode(err, dErrors.CodeNotPaused))

	s.pause(s.ctx())
	err = s.svc.BulkAddForMigration(s.ctx(), s.governor.Address(), items)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *MigrationSuite) TestResetKeyCanBeAddedAgain() {
	owner, identity := s.newOwner()
	key := s.newKey()
	s.Require().NoError(s.add(s.ctx(), owner.Address(), identity, key))

	s.pause(s.ctx())
	s.Require().NoError(s.svc.BulkResetForMigration(s.ctx(), s.migrator.Address(), []models.BulkResetItem{
		{Identity: identity, Keys: []id.HexBytes{key}},
	}))
	s.Require().NoError(s.svc.Unpause(s.ctx(), s.governor.Address()))
	s.Require().NoError(s.add(s.ctx(), owner.Address(), identity, key))

	evs, err := s.svc.Events(s.ctx(), 0, 0)
	s.Require().NoError(err)
	var types []events.Type
	for _, e := range evs {
		if e.Type.IsKeyEvent() {
			types = append(types, e.Type)
		}
	}
	s.Equal([]events.Type{events.TypeAdd, events.TypeAdminReset, events.TypeAdd}, types)
}
