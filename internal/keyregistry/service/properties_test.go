package service_test

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/mirror"
	"keyregistry/internal/signer"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
)

// PropertySuite drives random operation sequences and checks the properties
// that must hold whatever the interleaving.
type PropertySuite struct {
	harness
	rng     *rand.Rand
	now     time.Time
	owners  []*signer.Ed25519Signer
	ids     []id.IdentityID
	keys    [][]byte
	states  map[stateKey]models.KeyState
	usedAdd []authz.AddAuthorization
	usedRem []authz.RemoveAuthorization
}

type stateKey struct {
	identity id.IdentityID
	hash     id.KeyHash
}

func TestPropertySuite(t *testing.T) {
	suite.Run(t, new(PropertySuite))
}

func (s *PropertySuite) SetupTest() {
	s.harness.SetupTest()
	s.rng = rand.New(rand.NewPCG(7, 11))
	s.now = s.t0
	s.owners = nil
	s.ids = nil
	s.keys = nil
	s.states = make(map[stateKey]models.KeyState)
	s.usedAdd = nil
	s.usedRem = nil
	for range 3 {
		owner, identity := s.newOwner()
		s.owners = append(s.owners, owner)
		s.ids = append(s.ids, identity)
	}
	for range 6 {
		s.keys = append(s.keys, s.newKey())
	}
}

func (s *PropertySuite) nowCtx() context.Context {
	return s.at(s.now)
}

func (s *PropertySuite) pick() (int, []byte) {
	return s.rng.IntN(len(s.ids)), s.keys[s.rng.IntN(len(s.keys))]
}

// step runs one random user operation. Errors are expected; the checks
// happen in observe.
func (s *PropertySuite) step() {
	i, key := s.pick()
	owner, identity := s.owners[i], s.ids[i]
	ctx := s.nowCtx()
	deadline := uint64(s.now.Add(time.Minute).Unix())

	switch s.rng.IntN(6) {
	case 0:
		_ = s.add(ctx, owner.Address(), identity, key)
	case 1:
		_ = s.svc.Remove(ctx, owner.Address(), identity, key)
	case 2:
		nonce, err := s.svc.Nonces(ctx, owner.Address())
		s.Require().NoError(err)
		auth := s.signedAdd(owner, key, nonce, deadline)
		if s.svc.AddFor(ctx, s.gateway.Address(), auth) == nil {
			s.usedAdd = append(s.usedAdd, auth)
		}
	case 3:
		nonce, err := s.svc.Nonces(ctx, owner.Address())
		s.Require().NoError(err)
		auth := s.signedRemove(owner, key, nonce, deadline)
		if s.svc.RemoveFor(ctx, s.gateway.Address(), auth) == nil {
			s.usedRem = append(s.usedRem, auth)
		}
	case 4:
		_, _ = s.svc.UseNonce(ctx, owner.Address())
	case 5:
		// An intruder acting on someone else's identity never succeeds.
		j := (i + 1) % len(s.ids)
		err := s.add(ctx, s.owners[j].Address(), identity, key)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized) || dErrors.HasCode(err, dErrors.CodePaused), "got %v", err)
	}
	s.now = s.now.Add(time.Second)
}

// observe checks that every pair moved along a legal edge since the last look.
func (s *PropertySuite) observe(resetAllowed bool) {
	for _, identity := range s.ids {
		for _, key := range s.keys {
			k := stateKey{identity, id.HashKey(key)}
			prev, cur := s.states[k], s.state(identity, key)
			if prev != cur {
				legal := (prev == models.KeyStateNull && cur == models.KeyStateAdded) ||
					(prev == models.KeyStateAdded && cur == models.KeyStateRemoved) ||
					(resetAllowed && prev == models.KeyStateAdded && cur == models.KeyStateNull)
				s.True(legal, "illegal transition %s -> %s", prev, cur)
			}
			s.states[k] = cur
		}
	}
}

func (s *PropertySuite) bulkAdd() {
	i, key := s.pick()
	_ = s.svc.BulkAddForMigration(s.nowCtx(), s.migrator.Address(), []models.BulkAddItem{
		{Identity: s.ids[i], Keys: []models.BulkKey{{Key: key}}},
	})
}

func (s *PropertySuite) bulkReset() {
	i, key := s.pick()
	_ = s.svc.BulkResetForMigration(s.nowCtx(), s.migrator.Address(), []models.BulkResetItem{
		{Identity: s.ids[i], Keys: []id.HexBytes{key}},
	})
}

func (s *PropertySuite) TestRandomSequencesKeepInvariants() {
	for range 60 {
		s.step()
		s.observe(false)
	}

	s.pause(s.nowCtx())
	for range 10 {
		s.bulkAdd()
		s.observe(false)
	}
	s.Require().NoError(s.svc.Migrate(s.nowCtx(), s.migrator.Address()))
	for range 20 {
		if s.rng.IntN(2) == 0 {
			s.bulkAdd()
		} else {
			s.bulkReset()
		}
		s.now = s.now.Add(gracePeriod / 40)
		s.observe(true)
	}

	s.now = s.t0.Add(10 * gracePeriod)
	err := s.svc.BulkResetForMigration(s.nowCtx(), s.migrator.Address(), []models.BulkResetItem{
		{Identity: s.ids[0], Keys: []id.HexBytes{s.keys[0]}},
	})
	s.True(dErrors.HasCode(err, dErrors.CodePermissionRevoked), "got %v", err)
	err = s.svc.BulkAddForMigration(s.nowCtx(), s.migrator.Address(), []models.BulkAddItem{
		{Identity: s.ids[0], Keys: []models.BulkKey{{Key: s.keys[0]}}},
	})
	s.True(dErrors.HasCode(err, dErrors.CodePermissionRevoked), "got %v", err)

	s.Require().NoError(s.svc.Unpause(s.nowCtx(), s.governor.Address()))
	for range 60 {
		s.step()
		s.observe(false)
	}

	s.assertSignaturesNotReusable()
	s.assertJournalReplays()
}

func (s *PropertySuite) assertSignaturesNotReusable() {
	for _, auth := range s.usedAdd {
		err := s.svc.AddFor(s.nowCtx(), s.gateway.Address(), auth)
		s.Error(err)
	}
	for _, auth := range s.usedRem {
		err := s.svc.RemoveFor(s.nowCtx(), s.gateway.Address(), auth)
		s.Error(err)
	}
}

// assertJournalReplays rebuilds the key state from events alone and checks
// it matches the registry.
func (s *PropertySuite) assertJournalReplays() {
	var all []events.Event
	var after uint64
	for {
		page, err := s.svc.Events(s.ctx(), after, 50)
		s.Require().NoError(err)
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		after = page[len(page)-1].Seq
	}
	s.Require().NotEmpty(all)
	for i, e := range all {
		s.Equal(uint64(i+1), e.Seq)
	}

	m := mirror.New(mirror.NewInMemory(), gracePeriod)
	s.Require().NoError(m.ApplyAll(s.ctx(), all))
	for _, identity := range s.ids {
		for _, key := range s.keys {
			got, err := m.State(s.ctx(), identity, id.HashKey(key))
			s.Require().NoError(err)
			s.Equal(s.state(identity, key), got)
		}
	}
}
