package signer

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	id "keyregistry/pkg/domain"
)

// Digest is a 32 byte Keccak-256 hash that an account signs.
type Digest [32]byte

// Keccak256 hashes the concatenation of parts.
func Keccak256(parts ...[]byte) Digest {
	var d Digest
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	copy(d[:], h.Sum(nil))
	return d
}

const domainTypeString = "Domain(string name,string version,uint64 chainId,address verifyingContract)"

// Domain separates signatures between deployments.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract id.Address
}

// Separator returns the domain separator hash.
func (d Domain) Separator() Digest {
	return Keccak256(
		TypeHash(domainTypeString).Bytes(),
		EncodeString(d.Name),
		EncodeString(d.Version),
		EncodeUint64(d.ChainID),
		EncodeAddress(d.VerifyingContract),
	)
}

// TypedDigest combines the domain separator with a struct hash.
func (d Domain) TypedDigest(structHash Digest) Digest {
	sep := d.Separator()
	return Keccak256([]byte{0x19, 0x01}, sep[:], structHash[:])
}

// TypeHash hashes a type string such as "Remove(address owner,...)".
func TypeHash(typeString string) Digest {
	return Keccak256([]byte(typeString))
}

// HashStruct hashes a type hash followed by its encoded fields.
func HashStruct(typeHash Digest, fields ...[]byte) Digest {
	parts := make([][]byte, 0, len(fields)+1)
	parts = append(parts, typeHash[:])
	parts = append(parts, fields...)
	return Keccak256(parts...)
}

func (d Digest) Bytes() []byte { return d[:] }

// EncodeUint64 encodes v as a 32-byte big-endian word.
func EncodeUint64(v uint64) []byte {
	var w [32]byte
	binary.BigEndian.PutUint64(w[24:], v)
	return w[:]
}

// EncodeAddress left-pads an address to a 32-byte word.
func EncodeAddress(a id.Address) []byte {
	var w [32]byte
	copy(w[12:], a[:])
	return w[:]
}

// EncodeBytes encodes a dynamic byte field as its hash.
func EncodeBytes(b []byte) []byte {
	h := Keccak256(b)
	return h[:]
}

// EncodeString encodes a dynamic string field as its hash.
func EncodeString(s string) []byte {
	return EncodeBytes([]byte(s))
}
