package domain

import (
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "keyregistry/pkg/domain-errors"
)

// IdentityID is the numeric subject that owns keys. Ownership is tracked by
// the external identity registry; this module only references identities.
type IdentityID uint64

// ParseIdentityID parses a base-10 identity. Zero is rejected because no
// registry ever issues it.
func ParseIdentityID(s string) (IdentityID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "identity is required")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "identity must be an unsigned integer")
	}
	if v == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "identity must be non-zero")
	}
	return IdentityID(v), nil
}

func (id IdentityID) IsNil() bool { return id == 0 }

func (id IdentityID) String() string { return strconv.FormatUint(uint64(id), 10) }

// AddressLength is the byte length of an account address.
const AddressLength = 20

// Address identifies an account: a keyed account (derived from a public key)
// or a callback-verified account.
type Address [AddressLength]byte

// ParseAddress parses a 0x-prefixed (or bare) 40 character hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := decodeHex(s)
	if err != nil {
		return a, dErrors.New(dErrors.CodeInvalidInput, "address must be hex encoded")
	}
	if len(raw) != AddressLength {
		return a, dErrors.New(dErrors.CodeInvalidInput, "address must be 20 bytes")
	}
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// KeyHash is the Keccak-256 digest of a key's raw bytes. Records are keyed by
// (identity, KeyHash) so arbitrary-length keys share one fixed-width index.
type KeyHash [32]byte

// HashKey computes the record index for raw key bytes.
func HashKey(key []byte) KeyHash {
	var h KeyHash
	hasher := sha3.NewLegacyKeccak256()
	_, _ = hasher.Write(key)
	copy(h[:], hasher.Sum(nil))
	return h
}

// ParseKeyHash parses a 32 byte hex digest.
func ParseKeyHash(s string) (KeyHash, error) {
	var h KeyHash
	raw, err := decodeHex(s)
	if err != nil || len(raw) != len(h) {
		return h, dErrors.New(dErrors.CodeInvalidInput, "key hash must be 32 hex encoded bytes")
	}
	copy(h[:], raw)
	return h, nil
}

func (h KeyHash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (h KeyHash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *KeyHash) UnmarshalText(text []byte) error {
	parsed, err := ParseKeyHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// KeyType tags the cryptographic scheme or purpose of a key.
type KeyType uint32

// MetadataType selects the validator that interprets a key's metadata.
type MetadataType uint8

const (
	// KeyTypeEd25519 is the only key type seeded by migration.
	KeyTypeEd25519 KeyType = 1
	// MetadataTypeSignedKeyRequest carries an app's signed key request.
	MetadataTypeSignedKeyRequest MetadataType = 1
)

// HexBytes is a byte string that travels as 0x-prefixed hex in JSON.
type HexBytes []byte

// ParseHexBytes decodes 0x-prefixed or bare hex.
func ParseHexBytes(s string) (HexBytes, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "value must be hex encoded")
	}
	return raw, nil
}

func (b HexBytes) String() string { return "0x" + hex.EncodeToString(b) }

func (b HexBytes) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *HexBytes) UnmarshalText(text []byte) error {
	parsed, err := ParseHexBytes(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
