// Package validator dispatches key metadata to pluggable validators keyed by
// (keyType, metadataType). Mappings are data: governance stores a validator
// name per slot and the Catalog resolves names to implementations.
package validator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"keyregistry/internal/keyregistry/models"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
)

// Validator decides whether metadata is acceptable for adding key to identity.
// An error is treated the same as a rejection.
type Validator interface {
	Validate(ctx context.Context, identity id.IdentityID, key, metadata []byte) (bool, error)
}

// Func adapts a function to Validator.
type Func func(ctx context.Context, identity id.IdentityID, key, metadata []byte) (bool, error)

func (f Func) Validate(ctx context.Context, identity id.IdentityID, key, metadata []byte) (bool, error) {
	return f(ctx, identity, key, metadata)
}

// Catalog holds the validator implementations available to governance.
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]Validator
}

func NewCatalog() *Catalog {
	return &Catalog{byName: make(map[string]Validator)}
}

// Register adds a named validator. Names are unique.
func (c *Catalog) Register(name string, v Validator) error {
	if name == "" || v == nil {
		return fmt.Errorf("register validator: name and implementation are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[name]; exists {
		return fmt.Errorf("register validator %q: already registered", name)
	}
	c.byName[name] = v
	return nil
}

func (c *Catalog) Lookup(name string) (Validator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byName[name]
	return v, ok
}

// Names lists registered validators in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch resolves slot through mappings and runs the validator. It returns
// CodeValidatorNotFound when nothing usable is mapped and CodeInvalidMetadata
// when the validator rejects or fails.
func (c *Catalog) Dispatch(ctx context.Context, mappings map[models.ValidatorSlot]string, slot models.ValidatorSlot, identity id.IdentityID, key, metadata []byte) error {
	name, ok := mappings[slot]
	if !ok || name == "" {
		return dErrors.New(dErrors.CodeValidatorNotFound,
			fmt.Sprintf("no validator for key type %d metadata type %d", slot.KeyType, slot.MetadataType))
	}
	v, ok := c.Lookup(name)
	if !ok {
		return dErrors.New(dErrors.CodeValidatorNotFound, fmt.Sprintf("validator %q is not available", name))
	}
	valid, err := v.Validate(ctx, identity, key, metadata)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidMetadata, "metadata rejected")
	}
	if !valid {
		return dErrors.New(dErrors.CodeInvalidMetadata, "metadata rejected")
	}
	return nil
}

// AllowAllName is the catalog name of AllowAll.
const AllowAllName = "allow-all"

// AllowAll accepts everything. Development deployments and tests only.
type AllowAll struct{}

func (AllowAll) Validate(context.Context, id.IdentityID, []byte, []byte) (bool, error) {
	return true, nil
}
