package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/suite"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/keyregistry/store"
	id "keyregistry/pkg/domain"
	"keyregistry/pkg/platform/sentinel"
)

// contractSuite exercises behaviour every Store/Tx implementation shares.
// Concrete suites set tx in SetupTest.
type contractSuite struct {
	suite.Suite
	ctx context.Context
	tx  store.Tx
}

var errAbort = errors.New("abort")

func ref(identity id.IdentityID, key string) models.KeyRef {
	return models.KeyRef{Identity: identity, Hash: id.HashKey([]byte(key)), Key: id.HexBytes(key)}
}

func (s *contractSuite) TestKeyRecords() {
	s.Run("missing pair reads as null", func() {
		s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
			rec, err := st.Get(s.ctx, 1, id.HashKey([]byte("nope")))
			s.Require().NoError(err)
			s.Equal(models.KeyRecord{}, rec)
			return nil
		}))
	})

	s.Run("list follows transition order", func() {
		s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
			for _, k := range []string{"a", "b", "c"} {
				s.Require().NoError(st.Put(s.ctx, ref(2, k), models.KeyRecord{State: models.KeyStateAdded, KeyType: 1}))
			}
			return nil
		}))
		s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
			return st.Put(s.ctx, ref(2, "a"), models.KeyRecord{State: models.KeyStateRemoved, KeyType: 1})
		}))

		s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
			added, err := st.ListKeys(s.ctx, 2, models.KeyStateAdded)
			s.Require().NoError(err)
			s.Require().Len(added, 2)
			s.Equal(id.HexBytes("b"), added[0].Key)
			s.Equal(id.HexBytes("c"), added[1].Key)

			removed, err := st.CountKeys(s.ctx, 2, models.KeyStateRemoved)
			s.Require().NoError(err)
			s.Equal(1, removed)

			rec, err := st.Get(s.ctx, 2, id.HashKey([]byte("a")))
			s.Require().NoError(err)
			s.Equal(models.KeyStateRemoved, rec.State)
			return nil
		}))
	})
}

func (s *contractSuite) TestRollback() {
	err := s.tx.RunInTx(s.ctx, func(st store.Store) error {
		s.Require().NoError(st.Put(s.ctx, ref(3, "k"), models.KeyRecord{State: models.KeyStateAdded, KeyType: 1}))
		_, err := st.UseNonce(s.ctx, id.Address{3})
		s.Require().NoError(err)
		e := events.Add(id.Address{3}, time.Now(), 3, 1, []byte("k"), 1, nil)
		s.Require().NoError(st.AppendEvent(s.ctx, &e))
		return errAbort
	})
	s.ErrorIs(err, errAbort)

	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		rec, err := st.Get(s.ctx, 3, id.HashKey([]byte("k")))
		s.Require().NoError(err)
		s.Equal(models.KeyStateNull, rec.State)

		n, err := st.NonceOf(s.ctx, id.Address{3})
		s.Require().NoError(err)
		s.Zero(n)

		evs, err := st.Events(s.ctx, 0, 0)
		s.Require().NoError(err)
		s.Empty(evs)
		return nil
	}))
}

func (s *contractSuite) TestNonces() {
	addr := id.Address{4}
	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		used, err := st.UseNonce(s.ctx, addr)
		s.Require().NoError(err)
		s.Zero(used)
		used, err = st.UseNonce(s.ctx, addr)
		s.Require().NoError(err)
		s.Equal(uint64(1), used)
		return nil
	}))
	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		n, err := st.NonceOf(s.ctx, addr)
		s.Require().NoError(err)
		s.Equal(uint64(2), n)
		return nil
	}))
}

func (s *contractSuite) TestSettingsAndValidators() {
	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		_, err := st.LoadSettings(s.ctx)
		s.ErrorIs(err, sentinel.ErrNotFound)

		settings := models.Settings{Owner: id.Address{1}, MaxKeysPerIdentity: 5}
		settings.AddGuardian(id.Address{9})
		settings.Migration = models.MigrationState{Migrated: true, MigratedAt: time.Unix(1700000000, 0).UTC(), GracePeriod: 90 * time.Minute}
		s.Require().NoError(st.SaveSettings(s.ctx, settings))

		slot := models.ValidatorSlot{KeyType: 1, MetadataType: 1}
		s.Require().NoError(st.SaveValidator(s.ctx, slot, "signed-key-request"))
		s.Require().NoError(st.SaveValidator(s.ctx, models.ValidatorSlot{KeyType: 2, MetadataType: 1}, "allow-all"))
		return st.SaveValidator(s.ctx, models.ValidatorSlot{KeyType: 2, MetadataType: 1}, "")
	}))

	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		settings, err := st.LoadSettings(s.ctx)
		s.Require().NoError(err)
		s.Equal(id.Address{1}, settings.Owner)
		s.Equal(uint32(5), settings.MaxKeysPerIdentity)
		s.True(settings.IsGuardian(id.Address{9}))
		s.True(settings.Migration.MigratedAt.Equal(time.Unix(1700000000, 0)))
		s.Equal(90*time.Minute, settings.Migration.GracePeriod)

		validators, err := st.LoadValidators(s.ctx)
		s.Require().NoError(err)
		s.Equal(map[models.ValidatorSlot]string{{KeyType: 1, MetadataType: 1}: "signed-key-request"}, validators)
		return nil
	}))
}

func (s *contractSuite) TestJournal() {
	now := time.Unix(1700000000, 0).UTC()
	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		for i := 0; i < 3; i++ {
			e := events.Add(id.Address{1}, now, id.IdentityID(10+i), 1, []byte{byte(i)}, 1, nil)
			s.Require().NoError(st.AppendEvent(s.ctx, &e))
			s.Equal(uint64(i+1), e.Seq)
		}
		return nil
	}))

	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		after, err := st.Events(s.ctx, 1, 1)
		s.Require().NoError(err)
		s.Require().Len(after, 1)
		s.Equal(uint64(2), after[0].Seq)
		s.Equal(id.IdentityID(11), after[0].Identity)

		pending, err := st.PendingEvents(s.ctx, 0)
		s.Require().NoError(err)
		s.Len(pending, 3)
		return st.MarkPublished(s.ctx, []uint64{1, 2}, now)
	}))

	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		pending, err := st.PendingEvents(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(uint64(3), pending[0].Seq)
		return nil
	}))
}

func (s *contractSuite) TestIndexedLookupsTrackTransitions() {
	added := models.KeyRecord{State: models.KeyStateAdded, KeyType: 1}
	removed := models.KeyRecord{State: models.KeyStateRemoved, KeyType: 1}

	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		for _, k := range []string{"a", "b", "c", "d"} {
			s.Require().NoError(st.Put(s.ctx, ref(5, k), added))
		}
		// A transition inside the same transaction is visible to it.
		s.Require().NoError(st.Put(s.ctx, ref(5, "b"), removed))
		n, err := st.CountKeys(s.ctx, 5, models.KeyStateAdded)
		s.Require().NoError(err)
		s.Equal(3, n)
		return nil
	}))

	err := s.tx.RunInTx(s.ctx, func(st store.Store) error {
		s.Require().NoError(st.Put(s.ctx, ref(5, "a"), removed))
		return errAbort
	})
	s.ErrorIs(err, errAbort)

	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		n, err := st.CountKeys(s.ctx, 5, models.KeyStateAdded)
		s.Require().NoError(err)
		s.Equal(3, n, "rolled back transition must not change counts")

		n, err = st.CountKeys(s.ctx, 5, models.KeyStateRemoved)
		s.Require().NoError(err)
		s.Equal(1, n)

		for i, want := range []string{"a", "c", "d"} {
			got, err := st.KeyAt(s.ctx, 5, models.KeyStateAdded, i)
			s.Require().NoError(err)
			s.Equal(id.HexBytes(want), got.Key)
			s.Equal(id.HashKey([]byte(want)), got.Hash)
		}

		_, err = st.KeyAt(s.ctx, 5, models.KeyStateAdded, 3)
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = st.KeyAt(s.ctx, 5, models.KeyStateAdded, -1)
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = st.KeyAt(s.ctx, 6, models.KeyStateAdded, 0)
		s.ErrorIs(err, sentinel.ErrNotFound)

		got, err := st.KeyAt(s.ctx, 5, models.KeyStateRemoved, 0)
		s.Require().NoError(err)
		s.Equal(id.HexBytes("b"), got.Key)
		return nil
	}))
}

func (s *contractSuite) TestLastEventAt() {
	t0 := time.Unix(1700000000, 123456789).UTC()
	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		at, err := st.LastEventAt(s.ctx)
		s.Require().NoError(err)
		s.True(at.IsZero())

		for _, when := range []time.Time{t0, t0.Add(time.Minute)} {
			e := events.Governance(events.TypePaused, id.Address{1}, when, nil)
			s.Require().NoError(st.AppendEvent(s.ctx, &e))
		}
		at, err = st.LastEventAt(s.ctx)
		s.Require().NoError(err)
		s.True(at.Equal(t0.Add(time.Minute)), "got %s", at)
		return nil
	}))

	s.Require().NoError(s.tx.RunInTx(s.ctx, func(st store.Store) error {
		at, err := st.LastEventAt(s.ctx)
		s.Require().NoError(err)
		s.True(at.Equal(t0.Add(time.Minute)), "got %s", at)
		return nil
	}))
}
