// Package authz decides who may change a key: the identity owner directly,
// anyone holding the owner's signed authorization, the migrator during the
// migration window, or the configured gateway.
package authz

import (
	"context"
	"errors"

	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/signer"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
	"keyregistry/pkg/platform/sentinel"
	"keyregistry/pkg/requestcontext"
)

const (
	addTypeString    = "Add(address owner,uint32 keyType,bytes key,uint8 metadataType,bytes metadata,uint256 nonce,uint256 deadline)"
	removeTypeString = "Remove(address owner,bytes key,uint256 nonce,uint256 deadline)"
)

var (
	addTypeHash    = signer.TypeHash(addTypeString)
	removeTypeHash = signer.TypeHash(removeTypeString)
)

// Owners is the slice of the identity registry the gate needs.
type Owners interface {
	OwnerOf(ctx context.Context, identity id.IdentityID) (id.Address, error)
	IdOf(ctx context.Context, owner id.Address) (id.IdentityID, error)
}

// Nonces is the slice of the store that delegated calls consume.
type Nonces interface {
	NonceOf(ctx context.Context, addr id.Address) (uint64, error)
	UseNonce(ctx context.Context, addr id.Address) (uint64, error)
}

// AddAuthorization is an owner's signed permission to add a key.
type AddAuthorization struct {
	Owner        id.Address
	KeyType      id.KeyType
	Key          []byte
	MetadataType id.MetadataType
	Metadata     []byte
	Deadline     uint64
	Signature    []byte
}

// RemoveAuthorization is an owner's signed permission to remove a key.
type RemoveAuthorization struct {
	Owner     id.Address
	Key       []byte
	Deadline  uint64
	Signature []byte
}

type Gate struct {
	owners   Owners
	verifier signer.Verifier
	domain   signer.Domain
}

func New(owners Owners, verifier signer.Verifier, domain signer.Domain) *Gate {
	return &Gate{owners: owners, verifier: verifier, domain: domain}
}

func (g *Gate) Domain() signer.Domain { return g.domain }

// Direct requires caller to own identity.
func (g *Gate) Direct(ctx context.Context, caller id.Address, identity id.IdentityID) error {
	owner, err := g.owners.OwnerOf(ctx, identity)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeUnauthorized, "caller does not own identity")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve identity owner")
	}
	if caller.IsZero() || owner != caller {
		return dErrors.New(dErrors.CodeUnauthorized, "caller does not own identity")
	}
	return nil
}

// IdentityOf resolves the identity an address owns.
func (g *Gate) IdentityOf(ctx context.Context, owner id.Address) (id.IdentityID, error) {
	identity, err := g.owners.IdOf(ctx, owner)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.New(dErrors.CodeUnauthorized, "address owns no identity")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve identity")
	}
	return identity, nil
}

// AuthorizeAdd checks and consumes an add authorization, returning the
// owner's identity.
func (g *Gate) AuthorizeAdd(ctx context.Context, nonces Nonces, auth AddAuthorization) (id.IdentityID, error) {
	identity, err := g.IdentityOf(ctx, auth.Owner)
	if err != nil {
		return 0, err
	}
	err = g.consume(ctx, nonces, auth.Owner, auth.Deadline, auth.Signature, func(nonce uint64) signer.Digest {
		return AddDigest(g.domain, auth.Owner, auth.KeyType, auth.Key, auth.MetadataType, auth.Metadata, nonce, auth.Deadline)
	})
	if err != nil {
		return 0, err
	}
	return identity, nil
}

// AuthorizeRemove checks and consumes a remove authorization.
func (g *Gate) AuthorizeRemove(ctx context.Context, nonces Nonces, auth RemoveAuthorization) (id.IdentityID, error) {
	identity, err := g.IdentityOf(ctx, auth.Owner)
	if err != nil {
		return 0, err
	}
	err = g.consume(ctx, nonces, auth.Owner, auth.Deadline, auth.Signature, func(nonce uint64) signer.Digest {
		return RemoveDigest(g.domain, auth.Owner, auth.Key, nonce, auth.Deadline)
	})
	if err != nil {
		return 0, err
	}
	return identity, nil
}

// consume binds the signature to the owner's current nonce, so a signature
// can verify at most once.
func (g *Gate) consume(ctx context.Context, nonces Nonces, owner id.Address, deadline uint64, signature []byte, digestFor func(nonce uint64) signer.Digest) error {
	if uint64(requestcontext.Now(ctx).Unix()) > deadline {
		return dErrors.New(dErrors.CodeSignatureExpired, "signature deadline has passed")
	}
	nonce, err := nonces.NonceOf(ctx, owner)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read nonce")
	}
	if !g.verifier.Verify(ctx, owner, digestFor(nonce), signature) {
		return dErrors.New(dErrors.CodeInvalidSignature, "signature is not valid for owner")
	}
	if _, err := nonces.UseNonce(ctx, owner); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume nonce")
	}
	return nil
}

// Owner requires the governance owner.
func Owner(settings models.Settings, caller id.Address) error {
	if caller.IsZero() || caller != settings.Owner {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the owner")
	}
	return nil
}

// OwnerOrGuardian may pause.
func OwnerOrGuardian(settings models.Settings, caller id.Address) error {
	if caller.IsZero() || (caller != settings.Owner && !settings.IsGuardian(caller)) {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the owner or a guardian")
	}
	return nil
}

// Migrator requires the configured migrator. The window is checked separately.
func Migrator(settings models.Settings, caller id.Address) error {
	if caller.IsZero() || caller != settings.Migrator {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the migrator")
	}
	return nil
}

// Gateway requires the configured gateway.
func Gateway(settings models.Settings, caller id.Address) error {
	if caller.IsZero() || caller != settings.Gateway {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the gateway")
	}
	return nil
}

// AddDigest is the typed digest an owner signs to authorize an add.
func AddDigest(domain signer.Domain, owner id.Address, keyType id.KeyType, key []byte, metadataType id.MetadataType, metadata []byte, nonce, deadline uint64) signer.Digest {
	return domain.TypedDigest(signer.HashStruct(addTypeHash,
		signer.EncodeAddress(owner),
		signer.EncodeUint64(uint64(keyType)),
		signer.EncodeBytes(key),
		signer.EncodeUint64(uint64(metadataType)),
		signer.EncodeBytes(metadata),
		signer.EncodeUint64(nonce),
		signer.EncodeUint64(deadline),
	))
}

// RemoveDigest is the typed digest an owner signs to authorize a removal.
func RemoveDigest(domain signer.Domain, owner id.Address, key []byte, nonce, deadline uint64) signer.Digest {
	return domain.TypedDigest(signer.HashStruct(removeTypeHash,
		signer.EncodeAddress(owner),
		signer.EncodeBytes(key),
		signer.EncodeUint64(nonce),
		signer.EncodeUint64(deadline),
	))
}
