package handler

import (
	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/keyregistry/service"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
)

const (
	maxKeyBytes      = 1024
	maxMetadataBytes = 16 * 1024
	maxBatchItems    = 500
)

func checkKey(key id.HexBytes) error {
	if len(key) == 0 {
		return dErrors.New(dErrors.CodeValidation, "key is required")
	}
	if len(key) > maxKeyBytes {
		return dErrors.New(dErrors.CodeValidation, "key is too long")
	}
	return nil
}

func checkMetadata(metadata id.HexBytes) error {
	if len(metadata) > maxMetadataBytes {
		return dErrors.New(dErrors.CodeValidation, "metadata is too long")
	}
	return nil
}

func checkAddress(addr id.Address, field string) error {
	if addr.IsZero() {
		return dErrors.New(dErrors.CodeValidation, field+" is required")
	}
	return nil
}

// AddRequest is the body of POST /keys/add.
type AddRequest struct {
	Identity     id.IdentityID   `json:"identity"`
	KeyType      id.KeyType      `json:"key_type"`
	Key          id.HexBytes     `json:"key"`
	MetadataType id.MetadataType `json:"metadata_type"`
	Metadata     id.HexBytes     `json:"metadata"`
}

func (r *AddRequest) Validate() error {
	if r.Identity.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "identity is required")
	}
	if err := checkKey(r.Key); err != nil {
		return err
	}
	return checkMetadata(r.Metadata)
}

func (r *AddRequest) Input() service.AddInput {
	return service.AddInput{
		Identity:     r.Identity,
		KeyType:      r.KeyType,
		Key:          r.Key,
		MetadataType: r.MetadataType,
		Metadata:     r.Metadata,
	}
}

// AddForRequest is the body of POST /keys/add-for.
type AddForRequest struct {
	Owner        id.Address      `json:"owner"`
	KeyType      id.KeyType      `json:"key_type"`
	Key          id.HexBytes     `json:"key"`
	MetadataType id.MetadataType `json:"metadata_type"`
	Metadata     id.HexBytes     `json:"metadata"`
	Deadline     uint64          `json:"deadline"`
	Signature    id.HexBytes     `json:"signature"`
}

func (r *AddForRequest) Validate() error {
	if err := checkAddress(r.Owner, "owner"); err != nil {
		return err
	}
	if err := checkKey(r.Key); err != nil {
		return err
	}
	if err := checkMetadata(r.Metadata); err != nil {
		return err
	}
	if len(r.Signature) == 0 {
		return dErrors.New(dErrors.CodeValidation, "signature is required")
	}
	return nil
}

func (r *AddForRequest) Authorization() authz.AddAuthorization {
	return authz.AddAuthorization{
		Owner:        r.Owner,
		KeyType:      r.KeyType,
		Key:          r.Key,
		MetadataType: r.MetadataType,
		Metadata:     r.Metadata,
		Deadline:     r.Deadline,
		Signature:    r.Signature,
	}
}

// GatewayAddRequest is the body of POST /keys/gateway-add.
type GatewayAddRequest struct {
	Owner        id.Address      `json:"owner"`
	KeyType      id.KeyType      `json:"key_type"`
	Key          id.HexBytes     `json:"key"`
	MetadataType id.MetadataType `json:"metadata_type"`
	Metadata     id.HexBytes     `json:"metadata"`
}

func (r *GatewayAddRequest) Validate() error {
	if err := checkAddress(r.Owner, "owner"); err != nil {
		return err
	}
	if err := checkKey(r.Key); err != nil {
		return err
	}
	return checkMetadata(r.Metadata)
}

// RemoveRequest is the body of POST /keys/remove.
type RemoveRequest struct {
	Identity id.IdentityID `json:"identity"`
	Key      id.HexBytes   `json:"key"`
}

func (r *RemoveRequest) Validate() error {
	if r.Identity.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "identity is required")
	}
	return checkKey(r.Key)
}

// RemoveForRequest is the body of POST /keys/remove-for.
type RemoveForRequest struct {
	Owner     id.Address  `json:"owner"`
	Key       id.HexBytes `json:"key"`
	Deadline  uint64      `json:"deadline"`
	Signature id.HexBytes `json:"signature"`
}

func (r *RemoveForRequest) Validate() error {
	if err := checkAddress(r.Owner, "owner"); err != nil {
		return err
	}
	if err := checkKey(r.Key); err != nil {
		return err
	}
	if len(r.Signature) == 0 {
		return dErrors.New(dErrors.CodeValidation, "signature is required")
	}
	return nil
}

func (r *RemoveForRequest) Authorization() authz.RemoveAuthorization {
	return authz.RemoveAuthorization{
		Owner:     r.Owner,
		Key:       r.Key,
		Deadline:  r.Deadline,
		Signature: r.Signature,
	}
}

// SetValidatorRequest is the body of POST /admin/validators. An empty
// validator clears the slot.
type SetValidatorRequest struct {
	KeyType      id.KeyType      `json:"key_type"`
	MetadataType id.MetadataType `json:"metadata_type"`
	Validator    string          `json:"validator"`
}

func (r *SetValidatorRequest) Validate() error {
	if len(r.Validator) > 64 {
		return dErrors.New(dErrors.CodeValidation, "validator name is too long")
	}
	return nil
}

func (r *SetValidatorRequest) Slot() models.ValidatorSlot {
	return models.ValidatorSlot{KeyType: r.KeyType, MetadataType: r.MetadataType}
}

// SetMaxKeysRequest is the body of POST /admin/max-keys.
type SetMaxKeysRequest struct {
	MaxKeysPerIdentity uint32 `json:"max_keys_per_identity"`
}

func (r *SetMaxKeysRequest) Validate() error {
	if r.MaxKeysPerIdentity == 0 {
		return dErrors.New(dErrors.CodeValidation, "max_keys_per_identity must be positive")
	}
	return nil
}

// AddressRequest is the body of the admin routes that take one address:
// gateway, migrator and guardians.
type AddressRequest struct {
	Address id.Address `json:"address"`
}

func (r *AddressRequest) Validate() error {
	return checkAddress(r.Address, "address")
}

// BulkAddRequest is the body of POST /migration/bulk-add.
type BulkAddRequest struct {
	Items []models.BulkAddItem `json:"items"`
}

func (r *BulkAddRequest) Validate() error {
	if len(r.Items) > maxBatchItems {
		return dErrors.New(dErrors.CodeInvalidBatch, "too many items")
	}
	for _, item := range r.Items {
		for _, k := range item.Keys {
			if len(k.Key) > maxKeyBytes || len(k.Metadata) > maxMetadataBytes {
				return dErrors.New(dErrors.CodeInvalidBatch, "key or metadata is too long")
			}
		}
	}
	return models.ValidateBulkAdd(r.Items)
}

// BulkResetRequest is the body of POST /migration/bulk-reset.
type BulkResetRequest struct {
	Items []models.BulkResetItem `json:"items"`
}

func (r *BulkResetRequest) Validate() error {
	if len(r.Items) > maxBatchItems {
		return dErrors.New(dErrors.CodeInvalidBatch, "too many items")
	}
	return models.ValidateBulkReset(r.Items)
}
