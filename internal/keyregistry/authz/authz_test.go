package authz_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"keyregistry/internal/identity"
	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/keyregistry/store"
	"keyregistry/internal/signer"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
	"keyregistry/pkg/requestcontext"
)

type GateSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	domain   signer.Domain
	book     *signer.AccountBook
	registry *identity.InMemory
	nonces   *store.InMemory
	gate     *authz.Gate
	owner    *signer.Ed25519Signer
	identity id.IdentityID
	key      []byte
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.now = time.Unix(1_700_000_000, 0)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.domain = signer.Domain{Name: "KeyRegistry", Version: "1", ChainID: 1}
	s.book = signer.NewAccountBook()
	verifier := signer.NewAccountVerifier(s.book)
	s.registry = identity.NewInMemory(verifier)
	s.nonces = store.NewInMemory()
	s.gate = authz.New(s.registry, verifier, s.domain)

	s.owner = s.newSigner()
	var err error
	s.identity, err = s.registry.Register(s.ctx, s.owner.Address())
	s.Require().NoError(err)
	s.key = []byte("some-key")
}

func (s *GateSuite) newSigner() *signer.Ed25519Signer {
	sg, err := signer.GenerateEd25519Signer(rand.Reader)
	s.Require().NoError(err)
	return sg
}

func (s *GateSuite) addAuth(owner id.Address, nonce, deadline uint64, sign func(signer.Digest) []byte) authz.AddAuthorization {
	digest := authz.AddDigest(s.domain, owner, 1, s.key, 1, []byte("meta"), nonce, deadline)
	return authz.AddAuthorization{
		Owner: owner, KeyType: 1, Key: s.key, MetadataType: 1, Metadata: []byte("meta"),
		Deadline: deadline, Signature: sign(digest),
	}
}

func (s *GateSuite) TestDirect() {
	s.NoError(s.gate.Direct(s.ctx, s.owner.Address(), s.identity))
	s.True(dErrors.HasCode(s.gate.Direct(s.ctx, s.newSigner().Address(), s.identity), dErrors.CodeUnauthorized))
	s.True(dErrors.HasCode(s.gate.Direct(s.ctx, s.owner.Address(), 4242), dErrors.CodeUnauthorized))
	s.True(dErrors.HasCode(s.gate.Direct(s.ctx, id.Address{}, s.identity), dErrors.CodeUnauthorized))
}

func (s *GateSuite) TestAuthorizeAdd() {
	deadline := uint64(s.now.Add(time.Hour).Unix())

	s.Run("valid signature consumes the nonce", func() {
		auth := s.addAuth(s.owner.Address(), 0, deadline, s.owner.Sign)
		identity, err := s.gate.AuthorizeAdd(s.ctx, s.nonces, auth)
		s.Require().NoError(err)
		s.Equal(s.identity, identity)

		n, err := s.nonces.NonceOf(s.ctx, s.owner.Address())
		s.Require().NoError(err)
		s.Equal(uint64(1), n)

		s.Run("replay fails as an invalid signature", func() {
			_, err := s.gate.AuthorizeAdd(s.ctx, s.nonces, auth)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidSignature))
		})
	})

	s.Run("expired deadline", func() {
		auth := s.addAuth(s.owner.Address(), 1, uint64(s.now.Add(-time.Second).Unix()), s.owner.Sign)
		_, err := s.gate.AuthorizeAdd(s.ctx, s.nonces, auth)
		s.True(dErrors.HasCode(err, dErrors.CodeSignatureExpired))
	})

	s.Run("signature from a non owner", func() {
		auth := s.addAuth(s.owner.Address(), 1, deadline, s.newSigner().Sign)
		_, err := s.gate.AuthorizeAdd(s.ctx, s.nonces, auth)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidSignature))
	})

	s.Run("owner without identity", func() {
		stranger := s.newSigner()
		auth := s.addAuth(stranger.Address(), 0, deadline, stranger.Sign)
		_, err := s.gate.AuthorizeAdd(s.ctx, s.nonces, auth)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("failed checks leave the nonce untouched", func() {
		n, err := s.nonces.NonceOf(s.ctx, s.owner.Address())
		s.Require().NoError(err)
		s.Equal(uint64(1), n)
	})
}

func (s *GateSuite) TestAuthorizeRemoveWithCallbackAccount() {
	a, b, c := s.newSigner(), s.newSigner(), s.newSigner()
	account, err := signer.NewThresholdAccount(2, a.Address(), b.Address(), c.Address())
	s.Require().NoError(err)
	multisig := id.Address{0xab, 0xcd}
	s.book.Register(multisig, account)
	msID, err := s.registry.Register(s.ctx, multisig)
	s.Require().NoError(err)

	deadline := uint64(s.now.Add(time.Minute).Unix())
	digest := authz.RemoveDigest(s.domain, multisig, s.key, 0, deadline)

	s.Run("below threshold", func() {
		sig, err := signer.EncodeThresholdSignature(a.Sign(digest))
		s.Require().NoError(err)
		_, err = s.gate.AuthorizeRemove(s.ctx, s.nonces, authz.RemoveAuthorization{
			Owner: multisig, Key: s.key, Deadline: deadline, Signature: sig,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidSignature))
	})

	s.Run("threshold met", func() {
		sig, err := signer.EncodeThresholdSignature(a.Sign(digest), c.Sign(digest))
		s.Require().NoError(err)
		identity, err := s.gate.AuthorizeRemove(s.ctx, s.nonces, authz.RemoveAuthorization{
			Owner: multisig, Key: s.key, Deadline: deadline, Signature: sig,
		})
		s.Require().NoError(err)
		s.Equal(msID, identity)
	})
}

func TestRoleChecks(t *testing.T) {
	owner, guardian, migrator, gateway := id.Address{1}, id.Address{2}, id.Address{3}, id.Address{4}
	settings := models.Settings{Owner: owner, Migrator: migrator, Gateway: gateway}
	settings.AddGuardian(guardian)

	cases := []struct {
		name   string
		check  func(models.Settings, id.Address) error
		allow  []id.Address
		reject []id.Address
	}{
		{"owner", authz.Owner, []id.Address{owner}, []id.Address{guardian, migrator, {}}},
		{"owner or guardian", authz.OwnerOrGuardian, []id.Address{owner, guardian}, []id.Address{migrator, {}}},
		{"migrator", authz.Migrator, []id.Address{migrator}, []id.Address{owner, {}}},
		{"gateway", authz.Gateway, []id.Address{gateway}, []id.Address{owner, {}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, caller := range tc.allow {
				if err := tc.check(settings, caller); err != nil {
					t.Errorf("%s rejected: %v", caller, err)
				}
			}
			for _, caller := range tc.reject {
				if !dErrors.HasCode(tc.check(settings, caller), dErrors.CodeUnauthorized) {
					t.Errorf("%s accepted", caller)
				}
			}
		})
	}
}

func TestUnsetRolesRejectZeroCaller(t *testing.T) {
	var settings models.Settings
	if !dErrors.HasCode(authz.Migrator(settings, id.Address{}), dErrors.CodeUnauthorized) {
		t.Fatal("unset migrator must not match the zero address")
	}
}
