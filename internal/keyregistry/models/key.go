package models

import (
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
)

// KeyState is the lifecycle position of one (identity, key) pair.
type KeyState uint8

const (
	KeyStateNull KeyState = iota
	KeyStateAdded
	KeyStateRemoved
)

func (s KeyState) String() string {
	switch s {
	case KeyStateNull:
		return "null"
	case KeyStateAdded:
		return "added"
	case KeyStateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

func (s KeyState) IsValid() bool {
	return s <= KeyStateRemoved
}

// ParseKeyState accepts the String form of a state.
func ParseKeyState(raw string) (KeyState, error) {
	switch raw {
	case "null":
		return KeyStateNull, nil
	case "added":
		return KeyStateAdded, nil
	case "removed":
		return KeyStateRemoved, nil
	default:
		return 0, dErrors.New(dErrors.CodeInvalidInput, "state must be one of null, added, removed")
	}
}

func (s KeyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *KeyState) UnmarshalText(b []byte) error {
	parsed, err := ParseKeyState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// KeyRecord is the stored state of one (identity, key) pair. A missing record
// is the zero value: NULL with no key type.
//
// Invariants:
//   - REMOVED is terminal
//   - ADDED is entered only from NULL
//   - REMOVED is entered only from ADDED
//   - ADDED returns to NULL only through a migration reset
type KeyRecord struct {
	State   KeyState   `json:"state"`
	KeyType id.KeyType `json:"key_type"`
}

// CanAdd checks the NULL -> ADDED transition.
// Use with ApplyAdd in Execute callbacks.
func (r KeyRecord) CanAdd() error {
	if r.State != KeyStateNull {
		return dErrors.New(dErrors.CodeInvalidState, "key is already "+r.State.String())
	}
	return nil
}

// ApplyAdd records the key as ADDED. Call CanAdd first.
func (r *KeyRecord) ApplyAdd(keyType id.KeyType) {
	r.State = KeyStateAdded
	r.KeyType = keyType
}

// CanRemove checks the ADDED -> REMOVED transition.
func (r KeyRecord) CanRemove() error {
	if r.State != KeyStateAdded {
		return dErrors.New(dErrors.CodeInvalidState, "key is "+r.State.String()+", not added")
	}
	return nil
}

// ApplyRemove marks the key REMOVED. The key type is kept for the record.
func (r *KeyRecord) ApplyRemove() {
	r.State = KeyStateRemoved
}

// CanReset checks the privileged ADDED -> NULL transition.
func (r KeyRecord) CanReset() error {
	if r.State != KeyStateAdded {
		return dErrors.New(dErrors.CodeInvalidState, "key is "+r.State.String()+", not added")
	}
	return nil
}

// ApplyReset returns the key to NULL so it can be added again.
func (r *KeyRecord) ApplyReset() {
	r.State = KeyStateNull
	r.KeyType = 0
}

// KeyRef names a stored key: its identity, hash and original bytes.
type KeyRef struct {
	Identity id.IdentityID `json:"identity"`
	Hash     id.KeyHash    `json:"key_hash"`
	Key      id.HexBytes   `json:"key"`
}
