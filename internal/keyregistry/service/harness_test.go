package service_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"keyregistry/internal/identity"
	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/metrics"
	"keyregistry/internal/keyregistry/migration"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/keyregistry/service"
	"keyregistry/internal/keyregistry/store"
	"keyregistry/internal/keyregistry/validator"
	"keyregistry/internal/signer"
	id "keyregistry/pkg/domain"
	"keyregistry/pkg/requestcontext"
)

const (
	gracePeriod = time.Hour
	rejectAll   = "reject-all"
)

var (
	signedSlot = models.ValidatorSlot{KeyType: id.KeyTypeEd25519, MetadataType: id.MetadataTypeSignedKeyRequest}
	rejectSlot = models.ValidatorSlot{KeyType: 2, MetadataType: 9}
)

// harness wires the real collaborators around one in-memory store.
type harness struct {
	suite.Suite
	t0         time.Time
	domain     signer.Domain
	identities *identity.InMemory
	store      *store.InMemory
	catalog    *validator.Catalog
	metrics    *metrics.Metrics
	logs       *bytes.Buffer
	svc        *service.Service
	// maxKeys is the capacity cap the registry is bootstrapped with.
	maxKeys uint32

	governor *signer.Ed25519Signer
	migrator *signer.Ed25519Signer
	gateway  *signer.Ed25519Signer
}

func (h *harness) SetupTest() {
	h.t0 = time.Unix(1_700_000_000, 0).UTC()
	h.domain = signer.Domain{Name: "KeyRegistry", Version: "1", ChainID: 10}
	verifier := signer.NewAccountVerifier(signer.NewAccountBook())
	h.identities = identity.NewInMemory(verifier)
	h.store = store.NewInMemory()

	h.catalog = validator.NewCatalog()
	h.Require().NoError(h.catalog.Register(validator.AllowAllName, validator.AllowAll{}))
	h.Require().NoError(h.catalog.Register(rejectAll, validator.Func(func(context.Context, id.IdentityID, []byte, []byte) (bool, error) {
		return false, nil
	})))

	h.metrics = metrics.New(prometheus.NewRegistry())
	h.logs = &bytes.Buffer{}
	h.svc = service.New(h.store,
		authz.New(h.identities, verifier, h.domain),
		h.catalog,
		migration.New(gracePeriod),
		service.WithLogger(slog.New(slog.NewJSONHandler(h.logs, nil))),
		service.WithMetrics(h.metrics),
	)

	h.governor = h.newSigner()
	h.migrator = h.newSigner()
	h.gateway = h.newSigner()
	h.Require().NoError(h.svc.Bootstrap(h.at(h.t0), models.Settings{
		Owner:              h.governor.Address(),
		Migrator:           h.migrator.Address(),
		Gateway:            h.gateway.Address(),
		MaxKeysPerIdentity: h.maxKeys,
	}, map[models.ValidatorSlot]string{
		signedSlot: validator.AllowAllName,
		rejectSlot: rejectAll,
	}))
}

func (h *harness) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (h *harness) ctx() context.Context {
	return h.at(h.t0)
}

func (h *harness) newSigner() *signer.Ed25519Signer {
	sg, err := signer.GenerateEd25519Signer(rand.Reader)
	h.Require().NoError(err)
	return sg
}

// newOwner registers a fresh identity and returns its owner.
func (h *harness) newOwner() (*signer.Ed25519Signer, id.IdentityID) {
	owner := h.newSigner()
	identity, err := h.identities.Register(h.ctx(), owner.Address())
	h.Require().NoError(err)
	return owner, identity
}

func (h *harness) newKey() []byte {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return key
}

func (h *harness) add(ctx context.Context, owner id.Address, identity id.IdentityID, key []byte) error {
	return h.svc.Add(ctx, owner, service.AddInput{
		Identity:     identity,
		KeyType:      signedSlot.KeyType,
		Key:          key,
		MetadataType: signedSlot.MetadataType,
		Metadata:     []byte("meta"),
	})
}

func (h *harness) state(identity id.IdentityID, key []byte) models.KeyState {
	rec, err := h.svc.KeyDataOf(h.ctx(), identity, key)
	h.Require().NoError(err)
	return rec.State
}

func (h *harness) signedAdd(owner *signer.Ed25519Signer, key []byte, nonce, deadline uint64) authz.AddAuthorization {
	digest := authz.AddDigest(h.domain, owner.Address(), signedSlot.KeyType, key, signedSlot.MetadataType, []byte("meta"), nonce, deadline)
	return authz.AddAuthorization{
		Owner:        owner.Address(),
		KeyType:      signedSlot.KeyType,
		Key:          key,
		MetadataType: signedSlot.MetadataType,
		Metadata:     []byte("meta"),
		Deadline:     deadline,
		Signature:    owner.Sign(digest),
	}
}

func (h *harness) signedRemove(owner *signer.Ed25519Signer, key []byte, nonce, deadline uint64) authz.RemoveAuthorization {
	digest := authz.RemoveDigest(h.domain, owner.Address(), key, nonce, deadline)
	return authz.RemoveAuthorization{
		Owner:     owner.Address(),
		Key:       key,
		Deadline:  deadline,
		Signature: owner.Sign(digest),
	}
}

func (h *harness) pause(ctx context.Context) {
	h.Require().NoError(h.svc.Pause(ctx, h.governor.Address()))
}
