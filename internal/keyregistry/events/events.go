// Package events defines the registry's append-only event log entries.
//
// Indexers rebuild "which keys may sign for which identity" from these events
// alone, so every state change emits exactly one event in the same
// transaction that performs it.
package events

import (
	"time"

	id "keyregistry/pkg/domain"
)

// Type names an event kind on the wire.
type Type string

const (
	TypeAdd        Type = "Add"
	TypeRemove     Type = "Remove"
	TypeAdminReset Type = "AdminReset"
	TypeMigrated   Type = "Migrated"

	// Governance
	TypeSetValidator          Type = "SetValidator"
	TypeSetMaxKeysPerIdentity Type = "SetMaxKeysPerIdentity"
	TypeSetGateway            Type = "SetGateway"
	TypeFreezeGateway         Type = "FreezeGateway"
	TypeSetMigrator           Type = "SetMigrator"
	TypeAddGuardian           Type = "AddGuardian"
	TypeRemoveGuardian        Type = "RemoveGuardian"
	TypePaused                Type = "Paused"
	TypeUnpaused              Type = "Unpaused"
)

// IsKeyEvent reports whether the event changes a key's state.
func (t Type) IsKeyEvent() bool {
	return t == TypeAdd || t == TypeRemove || t == TypeAdminReset
}

// Event is one journal entry. Seq is assigned by the store on append and is
// strictly increasing. Key fields are set only for key events; Attributes
// carries the old/new values of governance changes.
type Event struct {
	Seq          uint64            `json:"seq"`
	Type         Type              `json:"type"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Actor        id.Address        `json:"actor"`
	Identity     id.IdentityID     `json:"identity,omitempty"`
	KeyType      id.KeyType        `json:"key_type,omitempty"`
	KeyHash      *id.KeyHash       `json:"key_hash,omitempty"`
	Key          id.HexBytes       `json:"key,omitempty"`
	MetadataType id.MetadataType   `json:"metadata_type,omitempty"`
	Metadata     id.HexBytes       `json:"metadata,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

func keyEvent(t Type, actor id.Address, at time.Time, identity id.IdentityID, key []byte) Event {
	hash := id.HashKey(key)
	return Event{
		Type:       t,
		OccurredAt: at,
		Actor:      actor,
		Identity:   identity,
		KeyHash:    &hash,
		Key:        append(id.HexBytes(nil), key...),
	}
}

// Add records NULL -> ADDED with the metadata that was validated.
func Add(actor id.Address, at time.Time, identity id.IdentityID, keyType id.KeyType, key []byte, metadataType id.MetadataType, metadata []byte) Event {
	e := keyEvent(TypeAdd, actor, at, identity, key)
	e.KeyType = keyType
	e.MetadataType = metadataType
	e.Metadata = append(id.HexBytes(nil), metadata...)
	return e
}

// Remove records ADDED -> REMOVED.
func Remove(actor id.Address, at time.Time, identity id.IdentityID, key []byte) Event {
	return keyEvent(TypeRemove, actor, at, identity, key)
}

// AdminReset records the privileged ADDED -> NULL correction.
func AdminReset(actor id.Address, at time.Time, identity id.IdentityID, key []byte) Event {
	return keyEvent(TypeAdminReset, actor, at, identity, key)
}

// Migrated records the start of the grace period and its length.
func Migrated(actor id.Address, at time.Time, gracePeriod time.Duration) Event {
	return Event{
		Type:       TypeMigrated,
		OccurredAt: at,
		Actor:      actor,
		Attributes: map[string]string{
			AttrMigratedAt:  at.UTC().Format(time.RFC3339Nano),
			AttrGracePeriod: gracePeriod.String(),
		},
	}
}

// Attribute names of a Migrated event.
const (
	AttrMigratedAt  = "migrated_at"
	AttrGracePeriod = "grace_period"
)

// GracePeriod returns the grace period recorded by a Migrated event.
// ok is false for other events and for events that predate the attribute.
func (e Event) GracePeriod() (time.Duration, bool) {
	if e.Type != TypeMigrated {
		return 0, false
	}
	raw, found := e.Attributes[AttrGracePeriod]
	if !found {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// Governance records a settings change. attrs is typically {"old": ..., "new": ...}.
func Governance(t Type, actor id.Address, at time.Time, attrs map[string]string) Event {
	return Event{
		Type:       t,
		OccurredAt: at,
		Actor:      actor,
		Attributes: attrs,
	}
}

// Change is the common old/new attribute pair.
func Change(old, updated string) map[string]string {
	return map[string]string{"old": old, "new": updated}
}
