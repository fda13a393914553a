package signer

import (
	id "keyregistry/pkg/domain"
)

// Scheme tags the signature algorithm inside a keyed envelope.
type Scheme byte

const (
	SchemeEd25519    Scheme = 0x01
	SchemeDilithium3 Scheme = 0x02
)

func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeDilithium3:
		return "dilithium3"
	default:
		return "unknown"
	}
}

// AddressOf derives a keyed account's address from its public key.
// The scheme byte is part of the preimage so the same key bytes under two
// schemes never collide.
func AddressOf(scheme Scheme, publicKey []byte) id.Address {
	var a id.Address
	h := Keccak256([]byte{byte(scheme)}, publicKey)
	copy(a[:], h[len(h)-id.AddressLength:])
	return a
}
