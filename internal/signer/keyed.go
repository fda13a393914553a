package signer

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	id "keyregistry/pkg/domain"
)

var (
	ErrMalformedEnvelope = errors.New("malformed signature envelope")
	ErrUnknownScheme     = errors.New("unknown signature scheme")
)

// Envelope is a parsed keyed signature.
type Envelope struct {
	Scheme    Scheme
	PublicKey []byte
	Signature []byte
}

// ParseEnvelope splits scheme || publicKey || signature. Lengths are fixed per
// scheme, so anything else is malformed.
func ParseEnvelope(raw []byte) (Envelope, error) {
	if len(raw) < 1 {
		return Envelope{}, ErrMalformedEnvelope
	}
	scheme := Scheme(raw[0])
	pubLen, sigLen, err := schemeSizes(scheme)
	if err != nil {
		return Envelope{}, err
	}
	body := raw[1:]
	if len(body) != pubLen+sigLen {
		return Envelope{}, fmt.Errorf("%w: %s envelope must be %d bytes, got %d",
			ErrMalformedEnvelope, scheme, pubLen+sigLen+1, len(raw))
	}
	return Envelope{
		Scheme:    scheme,
		PublicKey: body[:pubLen],
		Signature: body[pubLen:],
	}, nil
}

// Bytes serialises the envelope.
func (e Envelope) Bytes() []byte {
	out := make([]byte, 0, 1+len(e.PublicKey)+len(e.Signature))
	out = append(out, byte(e.Scheme))
	out = append(out, e.PublicKey...)
	return append(out, e.Signature...)
}

// Address is the keyed account that produced the envelope.
func (e Envelope) Address() id.Address {
	return AddressOf(e.Scheme, e.PublicKey)
}

func schemeSizes(s Scheme) (pub, sig int, err error) {
	switch s {
	case SchemeEd25519:
		return ed25519.PublicKeySize, ed25519.SignatureSize, nil
	case SchemeDilithium3:
		return mode3.PublicKeySize, mode3.SignatureSize, nil
	default:
		return 0, 0, ErrUnknownScheme
	}
}

// verifyKeyed checks a keyed envelope against the claimed address.
func verifyKeyed(claimed id.Address, digest Digest, raw []byte) bool {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return false
	}
	if env.Address() != claimed {
		return false
	}
	switch env.Scheme {
	case SchemeEd25519:
		return ed25519.Verify(ed25519.PublicKey(env.PublicKey), digest[:], env.Signature)
	case SchemeDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(env.PublicKey); err != nil {
			return false
		}
		return mode3.Verify(&pk, digest[:], env.Signature)
	default:
		return false
	}
}

// KeyedSigner produces envelopes for a keyed account. Clients and tests use it;
// the registry itself only verifies.
type KeyedSigner interface {
	Address() id.Address
	Sign(digest Digest) []byte
}

// Ed25519Signer signs with an Ed25519 private key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

// GenerateEd25519Signer creates a fresh keyed account.
func GenerateEd25519Signer(rand io.Reader) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Ed25519Signer{priv: priv}, nil
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

func (s *Ed25519Signer) Address() id.Address {
	return AddressOf(SchemeEd25519, s.PublicKey())
}

func (s *Ed25519Signer) Sign(digest Digest) []byte {
	return Envelope{
		Scheme:    SchemeEd25519,
		PublicKey: s.PublicKey(),
		Signature: ed25519.Sign(s.priv, digest[:]),
	}.Bytes()
}

// Dilithium3Signer signs with a post-quantum Dilithium3 key.
type Dilithium3Signer struct {
	pub  *mode3.PublicKey
	priv *mode3.PrivateKey
}

// GenerateDilithium3Signer creates a fresh post-quantum keyed account.
func GenerateDilithium3Signer(rand io.Reader) (*Dilithium3Signer, error) {
	pub, priv, err := mode3.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("generate dilithium3 key: %w", err)
	}
	return &Dilithium3Signer{pub: pub, priv: priv}, nil
}

func (s *Dilithium3Signer) publicKeyBytes() []byte {
	raw, err := s.pub.MarshalBinary()
	if err != nil {
		panic("signer: dilithium3 public key encoding failed: " + err.Error())
	}
	return raw
}

func (s *Dilithium3Signer) Address() id.Address {
	return AddressOf(SchemeDilithium3, s.publicKeyBytes())
}

func (s *Dilithium3Signer) Sign(digest Digest) []byte {
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.priv, digest[:], sig)
	return Envelope{
		Scheme:    SchemeDilithium3,
		PublicKey: s.publicKeyBytes(),
		Signature: sig,
	}.Bytes()
}
