package mirror

import (
	"context"
	"sync"
	"time"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	id "keyregistry/pkg/domain"
)

type pair struct {
	identity id.IdentityID
	hash     id.KeyHash
}

// InMemory is a process-local Backend.
type InMemory struct {
	mu         sync.Mutex
	lastSeq    uint64
	migratedAt *time.Time
	grace      time.Duration
	states     map[pair]models.KeyState
	order      map[id.IdentityID][]id.KeyHash
}

func NewInMemory() *InMemory {
	return &InMemory{
		states: make(map[pair]models.KeyState),
		order:  make(map[id.IdentityID][]id.KeyHash),
	}
}

func (b *InMemory) Apply(_ context.Context, e events.Event, decide func(View) (Change, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	v := View{LastSeq: b.lastSeq}
	var p pair
	if e.KeyHash != nil {
		p = pair{e.Identity, *e.KeyHash}
		v.State = b.states[p]
	}
	if b.migratedAt != nil {
		v.Migrated = true
		v.MigratedAt = *b.migratedAt
		v.GracePeriod = b.grace
	}

	change, err := decide(v)
	if IsDuplicate(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if change.State != nil {
		if _, seen := b.states[p]; !seen {
			b.order[p.identity] = append(b.order[p.identity], p.hash)
		}
		b.states[p] = *change.State
	}
	if change.MigratedAt != nil {
		at := *change.MigratedAt
		b.migratedAt = &at
		b.grace = change.GracePeriod
	}
	b.lastSeq = e.Seq
	return nil
}

func (b *InMemory) LastSeq(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq, nil
}

func (b *InMemory) State(_ context.Context, identity id.IdentityID, hash id.KeyHash) (models.KeyState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[pair{identity, hash}], nil
}

func (b *InMemory) Keys(_ context.Context, identity id.IdentityID, state models.KeyState) ([]id.KeyHash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []id.KeyHash
	for _, h := range b.order[identity] {
		if b.states[pair{identity, h}] == state {
			out = append(out, h)
		}
	}
	return out, nil
}
