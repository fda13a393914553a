package validator

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"keyregistry/internal/signer"
	id "keyregistry/pkg/domain"
	"keyregistry/pkg/requestcontext"
)

// SignedKeyRequestName is the catalog name of SignedKeyRequest.
const SignedKeyRequestName = "signed-key-request"

const signedKeyRequestType = "SignedKeyRequest(uint256 requestIdentity,bytes key,uint256 deadline)"

var signedKeyRequestTypeHash = signer.TypeHash(signedKeyRequestType)

// OwnerVerifier is the slice of the identity registry the validator needs.
type OwnerVerifier interface {
	VerifyOwnerSignature(ctx context.Context, owner id.Address, identity id.IdentityID, digest signer.Digest, signature []byte) (bool, error)
}

// SignedKeyRequestMetadata is an app's request, signed by the owner of
// RequestIdentity, to add an Ed25519 key to some identity.
type SignedKeyRequestMetadata struct {
	RequestIdentity id.IdentityID `cbor:"requestIdentity"`
	RequestSigner   id.Address    `cbor:"requestSigner"`
	Signature       []byte        `cbor:"signature"`
	Deadline        uint64        `cbor:"deadline"`
}

type signedKeyRequestWire struct {
	RequestIdentity uint64 `cbor:"requestIdentity"`
	RequestSigner   []byte `cbor:"requestSigner"`
	Signature       []byte `cbor:"signature"`
	Deadline        uint64 `cbor:"deadline"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("validator: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("validator: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeSignedKeyRequestMetadata produces deterministic CBOR.
func EncodeSignedKeyRequestMetadata(m SignedKeyRequestMetadata) ([]byte, error) {
	return encMode.Marshal(signedKeyRequestWire{
		RequestIdentity: uint64(m.RequestIdentity),
		RequestSigner:   m.RequestSigner[:],
		Signature:       m.Signature,
		Deadline:        m.Deadline,
	})
}

// DecodeSignedKeyRequestMetadata rejects unknown fields and malformed addresses.
func DecodeSignedKeyRequestMetadata(raw []byte) (SignedKeyRequestMetadata, error) {
	var w signedKeyRequestWire
	if err := decMode.Unmarshal(raw, &w); err != nil {
		return SignedKeyRequestMetadata{}, fmt.Errorf("decode signed key request: %w", err)
	}
	if len(w.RequestSigner) != id.AddressLength {
		return SignedKeyRequestMetadata{}, fmt.Errorf("decode signed key request: signer must be %d bytes", id.AddressLength)
	}
	m := SignedKeyRequestMetadata{
		RequestIdentity: id.IdentityID(w.RequestIdentity),
		Signature:       w.Signature,
		Deadline:        w.Deadline,
	}
	copy(m.RequestSigner[:], w.RequestSigner)
	return m, nil
}

// SignedKeyRequestDigest is the typed digest the request signer signs.
func SignedKeyRequestDigest(domain signer.Domain, requestIdentity id.IdentityID, key []byte, deadline uint64) signer.Digest {
	return domain.TypedDigest(signer.HashStruct(signedKeyRequestTypeHash,
		signer.EncodeUint64(uint64(requestIdentity)),
		signer.EncodeBytes(key),
		signer.EncodeUint64(deadline),
	))
}

// SignedKeyRequest validates Ed25519 keys whose metadata carries a request
// signed by the current owner of the requesting identity.
type SignedKeyRequest struct {
	owners OwnerVerifier
	domain signer.Domain
}

func NewSignedKeyRequest(owners OwnerVerifier, domain signer.Domain) *SignedKeyRequest {
	return &SignedKeyRequest{owners: owners, domain: domain}
}

func (v *SignedKeyRequest) Validate(ctx context.Context, _ id.IdentityID, key, metadata []byte) (bool, error) {
	if len(key) != ed25519.PublicKeySize {
		return false, nil
	}
	m, err := DecodeSignedKeyRequestMetadata(metadata)
	if err != nil {
		return false, err
	}
	if m.RequestIdentity.IsNil() || len(m.Signature) == 0 {
		return false, nil
	}
	if uint64(requestcontext.Now(ctx).Unix()) > m.Deadline {
		return false, nil
	}
	digest := SignedKeyRequestDigest(v.domain, m.RequestIdentity, key, m.Deadline)
	return v.owners.VerifyOwnerSignature(ctx, m.RequestSigner, m.RequestIdentity, digest, m.Signature)
}
