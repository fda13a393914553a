package models

import (
	"slices"
	"time"

	id "keyregistry/pkg/domain"
)

// MigrationState records whether and when the one-shot migration ran, and
// the grace period fixed at that moment.
type MigrationState struct {
	Migrated    bool          `json:"migrated"`
	MigratedAt  time.Time     `json:"migrated_at,omitzero"`
	GracePeriod time.Duration `json:"grace_period,omitempty"`
}

// Settings is the governance state of the registry. It is persisted next to
// the key records and re-read inside every mutating transaction.
type Settings struct {
	Owner              id.Address     `json:"owner"`
	Migrator           id.Address     `json:"migrator"`
	Gateway            id.Address     `json:"gateway"`
	GatewayFrozen      bool           `json:"gateway_frozen"`
	Guardians          []id.Address   `json:"guardians"`
	MaxKeysPerIdentity uint32         `json:"max_keys_per_identity"`
	Paused             bool           `json:"paused"`
	Migration          MigrationState `json:"migration"`
}

// Clone returns a deep copy safe to mutate.
func (s Settings) Clone() Settings {
	s.Guardians = slices.Clone(s.Guardians)
	return s
}

func (s Settings) IsGuardian(addr id.Address) bool {
	return slices.Contains(s.Guardians, addr)
}

// AddGuardian reports whether addr was newly added.
func (s *Settings) AddGuardian(addr id.Address) bool {
	if s.IsGuardian(addr) {
		return false
	}
	s.Guardians = append(s.Guardians, addr)
	slices.SortFunc(s.Guardians, func(a, b id.Address) int {
		return compareAddress(a, b)
	})
	return true
}

// RemoveGuardian reports whether addr was present.
func (s *Settings) RemoveGuardian(addr id.Address) bool {
	i := slices.Index(s.Guardians, addr)
	if i < 0 {
		return false
	}
	s.Guardians = slices.Delete(s.Guardians, i, i+1)
	return true
}

// CapacityEnabled reports whether the per-identity key cap is enforced.
func (s Settings) CapacityEnabled() bool {
	return s.MaxKeysPerIdentity > 0
}

func compareAddress(a, b id.Address) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ValidatorSlot is the dispatch key of a validator.
type ValidatorSlot struct {
	KeyType      id.KeyType      `json:"key_type"`
	MetadataType id.MetadataType `json:"metadata_type"`
}
