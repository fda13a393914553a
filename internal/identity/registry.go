// Package identity is the boundary to the external identity registry: the sole
// source of truth for which address owns which identity.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"keyregistry/internal/signer"
	id "keyregistry/pkg/domain"
	"keyregistry/pkg/platform/sentinel"
)

// Registry is what the key registry needs from identity ownership.
// Lookups of unknown identities or addresses return sentinel.ErrNotFound.
type Registry interface {
	OwnerOf(ctx context.Context, identity id.IdentityID) (id.Address, error)
	IdOf(ctx context.Context, owner id.Address) (id.IdentityID, error)
	// VerifyOwnerSignature reports whether owner currently owns identity and
	// signed digest.
	VerifyOwnerSignature(ctx context.Context, owner id.Address, identity id.IdentityID, digest signer.Digest, signature []byte) (bool, error)
}

// InMemory is a process-local identity registry. One address owns at most one
// identity; identities are numbered from 1.
type InMemory struct {
	mu       sync.RWMutex
	owners   map[id.IdentityID]id.Address
	ids      map[id.Address]id.IdentityID
	next     id.IdentityID
	verifier signer.Verifier
}

func NewInMemory(verifier signer.Verifier) *InMemory {
	return &InMemory{
		owners:   make(map[id.IdentityID]id.Address),
		ids:      make(map[id.Address]id.IdentityID),
		next:     1,
		verifier: verifier,
	}
}

// Register issues the next identity to owner.
func (r *InMemory) Register(_ context.Context, owner id.Address) (id.IdentityID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner.IsZero() {
		return 0, fmt.Errorf("register identity: zero owner")
	}
	if _, taken := r.ids[owner]; taken {
		return 0, fmt.Errorf("register identity: %w", sentinel.ErrAlreadyUsed)
	}
	identity := r.next
	r.next++
	r.owners[identity] = owner
	r.ids[owner] = identity
	return identity, nil
}

// Assign binds a specific identity to owner, for seeding mirrors of an
// existing registry.
func (r *InMemory) Assign(_ context.Context, identity id.IdentityID, owner id.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if identity.IsNil() || owner.IsZero() {
		return fmt.Errorf("assign identity: identity and owner are required")
	}
	if _, taken := r.owners[identity]; taken {
		return fmt.Errorf("assign identity %s: %w", identity, sentinel.ErrAlreadyUsed)
	}
	if _, taken := r.ids[owner]; taken {
		return fmt.Errorf("assign identity %s: %w", identity, sentinel.ErrAlreadyUsed)
	}
	r.owners[identity] = owner
	r.ids[owner] = identity
	if identity >= r.next {
		r.next = identity + 1
	}
	return nil
}

// Transfer moves identity to a new owner.
func (r *InMemory) Transfer(_ context.Context, identity id.IdentityID, to id.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	from, ok := r.owners[identity]
	if !ok {
		return fmt.Errorf("transfer identity %s: %w", identity, sentinel.ErrNotFound)
	}
	if _, taken := r.ids[to]; taken {
		return fmt.Errorf("transfer identity %s: %w", identity, sentinel.ErrAlreadyUsed)
	}
	delete(r.ids, from)
	r.owners[identity] = to
	r.ids[to] = identity
	return nil
}

func (r *InMemory) OwnerOf(_ context.Context, identity id.IdentityID) (id.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[identity]
	if !ok {
		return id.Address{}, sentinel.ErrNotFound
	}
	return owner, nil
}

func (r *InMemory) IdOf(_ context.Context, owner id.Address) (id.IdentityID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.ids[owner]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	return identity, nil
}

func (r *InMemory) VerifyOwnerSignature(ctx context.Context, owner id.Address, identity id.IdentityID, digest signer.Digest, signature []byte) (bool, error) {
	current, err := r.OwnerOf(ctx, identity)
	if err != nil {
		return false, nil
	}
	if current != owner {
		return false, nil
	}
	return r.verifier.Verify(ctx, owner, digest, signature), nil
}

// ParseSeed reads "identity=address" pairs separated by commas.
func ParseSeed(raw string) (map[id.IdentityID]id.Address, error) {
	out := make(map[id.IdentityID]id.Address)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		left, right, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("identity seed %q: expected identity=address", pair)
		}
		identity, err := id.ParseIdentityID(left)
		if err != nil {
			return nil, fmt.Errorf("identity seed %q: %w", pair, err)
		}
		owner, err := id.ParseAddress(right)
		if err != nil {
			return nil, fmt.Errorf("identity seed %q: %w", pair, err)
		}
		out[identity] = owner
	}
	return out, nil
}

// Seed assigns every pair in seed.
func (r *InMemory) Seed(ctx context.Context, seed map[id.IdentityID]id.Address) error {
	for identity, owner := range seed {
		if err := r.Assign(ctx, identity, owner); err != nil {
			return err
		}
	}
	return nil
}
