package mirror_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/mirror"
	id "keyregistry/pkg/domain"
)

const grace = time.Hour

var (
	t0    = time.Unix(1_700_000_000, 0).UTC()
	actor = id.MustParseAddress("0x00000000000000000000000000000000000000aa")
	keyA  = []byte("key-a-0123456789abcdef0123456789")
	keyB  = []byte("key-b-0123456789abcdef0123456789")
)

// backendSuite runs the same replay scenarios against every Backend.
type backendSuite struct {
	suite.Suite
	ctx     context.Context
	backend mirror.Backend
	mirror  *mirror.Mirror
	seq     uint64
}

func (s *backendSuite) reset(b mirror.Backend) {
	s.ctx = context.Background()
	s.backend = b
	s.mirror = mirror.New(b, grace)
	s.seq = 0
}

func (s *backendSuite) next(e events.Event) events.Event {
	s.seq++
	e.Seq = s.seq
	return e
}

func (s *backendSuite) apply(e events.Event) error {
	return s.mirror.Apply(s.ctx, s.next(e))
}

func (s *backendSuite) state(identity id.IdentityID, key []byte) models.KeyState {
	st, err := s.mirror.State(s.ctx, identity, id.HashKey(key))
	s.Require().NoError(err)
	return st
}

func (s *backendSuite) TestReplaysLifecycle() {
	s.Require().NoError(s.apply(events.Add(actor, t0, 1, 1, keyA, 1, nil)))
	s.Require().NoError(s.apply(events.Add(actor, t0, 1, 1, keyB, 1, nil)))
	s.Require().NoError(s.apply(events.Remove(actor, t0, 1, keyA)))
	s.Require().NoError(s.apply(events.Governance(events.TypePaused, actor, t0, nil)))

	s.Equal(models.KeyStateRemoved, s.state(1, keyA))
	s.Equal(models.KeyStateAdded, s.state(1, keyB))
	s.Equal(models.KeyStateNull, s.state(2, keyA))

	added, err := s.mirror.Keys(s.ctx, 1, models.KeyStateAdded)
	s.Require().NoError(err)
	s.Equal([]id.KeyHash{id.HashKey(keyB)}, added)

	last, err := s.mirror.LastSeq(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(4), last)
}

func (s *backendSuite) TestRejectsOrderingViolations() {
	s.Run("remove before add", func() {
		err := s.apply(events.Remove(actor, t0, 1, keyA))
		s.ErrorIs(err, mirror.ErrOrderingViolation)
		s.seq--
	})
	s.Run("double add", func() {
		s.Require().NoError(s.apply(events.Add(actor, t0, 1, 1, keyA, 1, nil)))
		err := s.apply(events.Add(actor, t0, 1, 1, keyA, 1, nil))
		s.ErrorIs(err, mirror.ErrOrderingViolation)
		s.seq--
	})
	s.Run("add after remove", func() {
		s.Require().NoError(s.apply(events.Remove(actor, t0, 1, keyA)))
		err := s.apply(events.Add(actor, t0, 1, 1, keyA, 1, nil))
		s.ErrorIs(err, mirror.ErrOrderingViolation)
		s.seq--
	})
	s.Equal(models.KeyStateRemoved, s.state(1, keyA))
}

func (s *backendSuite) TestSkipsDuplicatesAndDetectsGaps() {
	add := s.next(events.Add(actor, t0, 1, 1, keyA, 1, nil))
	s.Require().NoError(s.mirror.Apply(s.ctx, add))
	s.Require().NoError(s.mirror.Apply(s.ctx, add))
	s.Equal(models.KeyStateAdded, s.state(1, keyA))

	gap := events.Remove(actor, t0, 1, keyA)
	gap.Seq = 5
	s.ErrorIs(s.mirror.Apply(s.ctx, gap), mirror.ErrGap)
	s.Equal(models.KeyStateAdded, s.state(1, keyA))
}

func (s *backendSuite) TestAdminResetWithinWindow() {
	s.Require().NoError(s.apply(events.Add(actor, t0, 1, 1, keyA, 1, nil)))
	s.Require().NoError(s.apply(events.Add(actor, t0, 1, 1, keyB, 1, nil)))
	s.Require().NoError(s.apply(events.Migrated(actor, t0, grace)))

	s.Require().NoError(s.apply(events.AdminReset(actor, t0.Add(grace), 1, keyA)))
	s.Equal(models.KeyStateNull, s.state(1, keyA))

	err := s.apply(events.AdminReset(actor, t0.Add(grace+time.Second), 1, keyB))
	s.ErrorIs(err, mirror.ErrOrderingViolation)
	s.seq--

	s.Require().NoError(s.apply(events.Add(actor, t0.Add(2*grace), 1, 1, keyA, 1, nil)))
	s.Equal(models.KeyStateAdded, s.state(1, keyA))
}

func (s *backendSuite) TestAdminResetUsesRecordedGracePeriod() {
	s.Require().NoError(s.apply(events.Add(actor, t0, 1, 1, keyA, 1, nil)))
	s.Require().NoError(s.apply(events.Add(actor, t0, 1, 1, keyB, 1, nil)))
	s.Require().NoError(s.apply(events.Migrated(actor, t0, 10*time.Minute)))

	s.Require().NoError(s.apply(events.AdminReset(actor, t0.Add(10*time.Minute), 1, keyA)))

	// A mirror restarted with a longer fallback still honours the recorded window.
	s.mirror = mirror.New(s.backend, 1000*time.Hour)
	err := s.apply(events.AdminReset(actor, t0.Add(11*time.Minute), 1, keyB))
	s.ErrorIs(err, mirror.ErrOrderingViolation)
	s.Equal(models.KeyStateAdded, s.state(1, keyB))
}

func (s *backendSuite) TestAdminResetFallsBackWithoutRecordedGracePeriod() {
	s.Require().NoError(s.apply(events.Add(actor, t0, 1, 1, keyA, 1, nil)))
	migrated := events.Migrated(actor, t0, grace)
	delete(migrated.Attributes, events.AttrGracePeriod)
	s.Require().NoError(s.apply(migrated))

	err := s.apply(events.AdminReset(actor, t0.Add(grace+time.Second), 1, keyA))
	s.ErrorIs(err, mirror.ErrOrderingViolation)
}

func (s *backendSuite) TestRejectsSecondMigration() {
	s.Require().NoError(s.apply(events.Migrated(actor, t0, grace)))
	err := s.apply(events.Migrated(actor, t0.Add(time.Minute), grace))
	s.ErrorIs(err, mirror.ErrOrderingViolation)
}

func (s *backendSuite) TestRejectsAdminResetOfAbsentKey() {
	err := s.apply(events.AdminReset(actor, t0, 1, keyA))
	s.ErrorIs(err, mirror.ErrOrderingViolation)
}
