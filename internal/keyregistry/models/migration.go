package models

import (
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
)

// Legacy keys seeded during migration are all signed-key-request Ed25519 keys.
const (
	MigrationKeyType      = id.KeyTypeEd25519
	MigrationMetadataType = id.MetadataTypeSignedKeyRequest
)

// BulkKey is one key in a bulk add batch.
type BulkKey struct {
	Key      id.HexBytes `json:"key"`
	Metadata id.HexBytes `json:"metadata"`
}

// BulkAddItem groups the keys seeded for one identity.
type BulkAddItem struct {
	Identity id.IdentityID `json:"identity"`
	Keys     []BulkKey     `json:"keys"`
}

// BulkResetItem groups the keys reset for one identity.
type BulkResetItem struct {
	Identity id.IdentityID `json:"identity"`
	Keys     []id.HexBytes `json:"keys"`
}

// ValidateBulkAdd rejects structurally malformed batches before any state is read.
func ValidateBulkAdd(items []BulkAddItem) error {
	if len(items) == 0 {
		return dErrors.New(dErrors.CodeInvalidBatch, "batch is empty")
	}
	for _, item := range items {
		if item.Identity.IsNil() {
			return dErrors.New(dErrors.CodeInvalidBatch, "batch item has no identity")
		}
		if len(item.Keys) == 0 {
			return dErrors.New(dErrors.CodeInvalidBatch, "batch item "+item.Identity.String()+" has no keys")
		}
		for _, k := range item.Keys {
			if len(k.Key) == 0 {
				return dErrors.New(dErrors.CodeInvalidBatch, "batch item "+item.Identity.String()+" has an empty key")
			}
		}
	}
	return nil
}

// ValidateBulkReset rejects structurally malformed batches.
func ValidateBulkReset(items []BulkResetItem) error {
	if len(items) == 0 {
		return dErrors.New(dErrors.CodeInvalidBatch, "batch is empty")
	}
	for _, item := range items {
		if item.Identity.IsNil() {
			return dErrors.New(dErrors.CodeInvalidBatch, "batch item has no identity")
		}
		if len(item.Keys) == 0 {
			return dErrors.New(dErrors.CodeInvalidBatch, "batch item "+item.Identity.String()+" has no keys")
		}
		for _, k := range item.Keys {
			if len(k) == 0 {
				return dErrors.New(dErrors.CodeInvalidBatch, "batch item "+item.Identity.String()+" has an empty key")
			}
		}
	}
	return nil
}
