package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
	"keyregistry/pkg/platform/sentinel"
)

type recordKey struct {
	identity id.IdentityID
	hash     id.KeyHash
}

type keyEntry struct {
	record models.KeyRecord
	key    []byte
}

// stateKey indexes the keys of one identity in one state. A key is appended
// when it enters the state and removed when it leaves, so each list is in
// transition order.
type stateKey struct {
	identity id.IdentityID
	state    models.KeyState
}

type memoryState struct {
	keys       map[recordKey]keyEntry
	byState    map[stateKey][]id.KeyHash
	nonces     map[id.Address]uint64
	settings   *models.Settings
	validators map[models.ValidatorSlot]string
	journal    []events.Event
	published  map[uint64]time.Time
}

// InMemory is a single-writer store. RunInTx holds one mutex for the whole
// callback and stages writes in an overlay that is merged only on success.
type InMemory struct {
	mu      sync.Mutex
	state   *memoryState
	timeout time.Duration
}

func NewInMemory() *InMemory {
	return &InMemory{state: &memoryState{
		keys:       make(map[recordKey]keyEntry),
		byState:    make(map[stateKey][]id.KeyHash),
		nonces:     make(map[id.Address]uint64),
		validators: make(map[models.ValidatorSlot]string),
		published:  make(map[uint64]time.Time),
	}}
}

func (s *InMemory) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	staged := newMemoryTx(s.state)
	if err := fn(staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	staged.commit()
	return nil
}

func (s *InMemory) view(ctx context.Context, fn func(tx *memoryTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := newMemoryTx(s.state)
	if err := fn(staged); err != nil {
		return err
	}
	staged.commit()
	return nil
}

// The methods below let InMemory be used as a Store outside RunInTx; each
// call is its own transaction.

func (s *InMemory) Get(ctx context.Context, identity id.IdentityID, hash id.KeyHash) (rec models.KeyRecord, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		rec, err = tx.Get(ctx, identity, hash)
		return err
	})
	return rec, err
}

func (s *InMemory) Put(ctx context.Context, ref models.KeyRef, record models.KeyRecord) error {
	return s.view(ctx, func(tx *memoryTx) error { return tx.Put(ctx, ref, record) })
}

func (s *InMemory) ListKeys(ctx context.Context, identity id.IdentityID, state models.KeyState) (refs []models.KeyRef, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		refs, err = tx.ListKeys(ctx, identity, state)
		return err
	})
	return refs, err
}

func (s *InMemory) CountKeys(ctx context.Context, identity id.IdentityID, state models.KeyState) (n int, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		n, err = tx.CountKeys(ctx, identity, state)
		return err
	})
	return n, err
}

func (s *InMemory) KeyAt(ctx context.Context, identity id.IdentityID, state models.KeyState, index int) (ref models.KeyRef, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		ref, err = tx.KeyAt(ctx, identity, state, index)
		return err
	})
	return ref, err
}

func (s *InMemory) NonceOf(ctx context.Context, addr id.Address) (n uint64, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		n, err = tx.NonceOf(ctx, addr)
		return err
	})
	return n, err
}

func (s *InMemory) UseNonce(ctx context.Context, addr id.Address) (n uint64, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		n, err = tx.UseNonce(ctx, addr)
		return err
	})
	return n, err
}

func (s *InMemory) LoadSettings(ctx context.Context) (settings models.Settings, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		settings, err = tx.LoadSettings(ctx)
		return err
	})
	return settings, err
}

func (s *InMemory) SaveSettings(ctx context.Context, settings models.Settings) error {
	return s.view(ctx, func(tx *memoryTx) error { return tx.SaveSettings(ctx, settings) })
}

func (s *InMemory) LoadValidators(ctx context.Context) (out map[models.ValidatorSlot]string, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		out, err = tx.LoadValidators(ctx)
		return err
	})
	return out, err
}

func (s *InMemory) SaveValidator(ctx context.Context, slot models.ValidatorSlot, name string) error {
	return s.view(ctx, func(tx *memoryTx) error { return tx.SaveValidator(ctx, slot, name) })
}

func (s *InMemory) AppendEvent(ctx context.Context, event *events.Event) error {
	return s.view(ctx, func(tx *memoryTx) error { return tx.AppendEvent(ctx, event) })
}

func (s *InMemory) LastEventAt(ctx context.Context) (at time.Time, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		at, err = tx.LastEventAt(ctx)
		return err
	})
	return at, err
}

func (s *InMemory) Events(ctx context.Context, afterSeq uint64, limit int) (out []events.Event, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		out, err = tx.Events(ctx, afterSeq, limit)
		return err
	})
	return out, err
}

func (s *InMemory) PendingEvents(ctx context.Context, limit int) (out []events.Event, err error) {
	err = s.view(ctx, func(tx *memoryTx) error {
		out, err = tx.PendingEvents(ctx, limit)
		return err
	})
	return out, err
}

func (s *InMemory) MarkPublished(ctx context.Context, seqs []uint64, at time.Time) error {
	return s.view(ctx, func(tx *memoryTx) error { return tx.MarkPublished(ctx, seqs, at) })
}

// memoryTx reads through to the committed state and buffers every write.
// byState holds copies of the state lists this transaction has changed.
type memoryTx struct {
	base       *memoryState
	keys       map[recordKey]keyEntry
	byState    map[stateKey][]id.KeyHash
	nonces     map[id.Address]uint64
	settings   *models.Settings
	validators map[models.ValidatorSlot]string
	journal    []events.Event
	published  map[uint64]time.Time
}

func newMemoryTx(base *memoryState) *memoryTx {
	return &memoryTx{
		base:       base,
		keys:       make(map[recordKey]keyEntry),
		byState:    make(map[stateKey][]id.KeyHash),
		nonces:     make(map[id.Address]uint64),
		validators: make(map[models.ValidatorSlot]string),
		published:  make(map[uint64]time.Time),
	}
}

// list returns the state list without copying; callers must not modify it.
func (t *memoryTx) list(k stateKey) []id.KeyHash {
	if l, ok := t.byState[k]; ok {
		return l
	}
	return t.base.byState[k]
}

// owned returns the transaction's copy of a state list, copying it from the
// committed state on first use.
func (t *memoryTx) owned(k stateKey) []id.KeyHash {
	if l, ok := t.byState[k]; ok {
		return l
	}
	l := slices.Clone(t.base.byState[k])
	t.byState[k] = l
	return l
}

func (t *memoryTx) enter(k stateKey, hash id.KeyHash) {
	t.byState[k] = append(t.owned(k), hash)
}

func (t *memoryTx) leave(k stateKey, hash id.KeyHash) {
	l := t.owned(k)
	if i := slices.Index(l, hash); i >= 0 {
		t.byState[k] = slices.Delete(l, i, i+1)
	}
}

func (t *memoryTx) entry(k recordKey) (keyEntry, bool) {
	if e, ok := t.keys[k]; ok {
		return e, true
	}
	e, ok := t.base.keys[k]
	return e, ok
}

func (t *memoryTx) Get(_ context.Context, identity id.IdentityID, hash id.KeyHash) (models.KeyRecord, error) {
	e, _ := t.entry(recordKey{identity, hash})
	return e.record, nil
}

func (t *memoryTx) Put(_ context.Context, ref models.KeyRef, record models.KeyRecord) error {
	k := recordKey{ref.Identity, ref.Hash}
	prev, exists := t.entry(k)
	e := keyEntry{record: record, key: prev.key}
	if len(ref.Key) > 0 {
		e.key = slices.Clone([]byte(ref.Key))
	}
	if !exists || prev.record.State != record.State {
		if exists {
			t.leave(stateKey{ref.Identity, prev.record.State}, ref.Hash)
		}
		t.enter(stateKey{ref.Identity, record.State}, ref.Hash)
	}
	t.keys[k] = e
	return nil
}

func (t *memoryTx) ref(identity id.IdentityID, hash id.KeyHash) models.KeyRef {
	e, _ := t.entry(recordKey{identity, hash})
	return models.KeyRef{Identity: identity, Hash: hash, Key: slices.Clone(e.key)}
}

func (t *memoryTx) ListKeys(_ context.Context, identity id.IdentityID, state models.KeyState) ([]models.KeyRef, error) {
	hashes := t.list(stateKey{identity, state})
	refs := make([]models.KeyRef, 0, len(hashes))
	for _, h := range hashes {
		refs = append(refs, t.ref(identity, h))
	}
	return refs, nil
}

func (t *memoryTx) CountKeys(_ context.Context, identity id.IdentityID, state models.KeyState) (int, error) {
	return len(t.list(stateKey{identity, state})), nil
}

func (t *memoryTx) KeyAt(_ context.Context, identity id.IdentityID, state models.KeyState, index int) (models.KeyRef, error) {
	hashes := t.list(stateKey{identity, state})
	if index < 0 || index >= len(hashes) {
		return models.KeyRef{}, sentinel.ErrNotFound
	}
	return t.ref(identity, hashes[index]), nil
}

func (t *memoryTx) NonceOf(_ context.Context, addr id.Address) (uint64, error) {
	if n, ok := t.nonces[addr]; ok {
		return n, nil
	}
	return t.base.nonces[addr], nil
}

func (t *memoryTx) UseNonce(ctx context.Context, addr id.Address) (uint64, error) {
	current, _ := t.NonceOf(ctx, addr)
	t.nonces[addr] = current + 1
	return current, nil
}

func (t *memoryTx) LoadSettings(_ context.Context) (models.Settings, error) {
	if t.settings != nil {
		return t.settings.Clone(), nil
	}
	if t.base.settings == nil {
		return models.Settings{}, sentinel.ErrNotFound
	}
	return t.base.settings.Clone(), nil
}

func (t *memoryTx) SaveSettings(_ context.Context, settings models.Settings) error {
	cloned := settings.Clone()
	t.settings = &cloned
	return nil
}

func (t *memoryTx) LoadValidators(_ context.Context) (map[models.ValidatorSlot]string, error) {
	out := maps.Clone(t.base.validators)
	for slot, name := range t.validators {
		if name == "" {
			delete(out, slot)
			continue
		}
		out[slot] = name
	}
	return out, nil
}

func (t *memoryTx) SaveValidator(_ context.Context, slot models.ValidatorSlot, name string) error {
	t.validators[slot] = name
	return nil
}

func (t *memoryTx) AppendEvent(_ context.Context, event *events.Event) error {
	event.Seq = uint64(len(t.base.journal) + len(t.journal) + 1)
	t.journal = append(t.journal, *event)
	return nil
}

func (t *memoryTx) LastEventAt(_ context.Context) (time.Time, error) {
	if n := len(t.journal); n > 0 {
		return t.journal[n-1].OccurredAt, nil
	}
	if n := len(t.base.journal); n > 0 {
		return t.base.journal[n-1].OccurredAt, nil
	}
	return time.Time{}, nil
}

func (t *memoryTx) all() []events.Event {
	return append(slices.Clone(t.base.journal), t.journal...)
}

func (t *memoryTx) Events(_ context.Context, afterSeq uint64, limit int) ([]events.Event, error) {
	all := t.all()
	if afterSeq >= uint64(len(all)) {
		return nil, nil
	}
	out := all[afterSeq:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memoryTx) isPublished(seq uint64) bool {
	if _, ok := t.published[seq]; ok {
		return true
	}
	_, ok := t.base.published[seq]
	return ok
}

func (t *memoryTx) PendingEvents(_ context.Context, limit int) ([]events.Event, error) {
	var out []events.Event
	for _, e := range t.all() {
		if t.isPublished(e.Seq) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTx) MarkPublished(_ context.Context, seqs []uint64, at time.Time) error {
	total := uint64(len(t.base.journal) + len(t.journal))
	for _, seq := range seqs {
		if seq == 0 || seq > total {
			return sentinel.ErrNotFound
		}
		if !t.isPublished(seq) {
			t.published[seq] = at
		}
	}
	return nil
}

func (t *memoryTx) commit() {
	b := t.base
	for k, hashes := range t.byState {
		if len(hashes) == 0 {
			delete(b.byState, k)
			continue
		}
		b.byState[k] = hashes
	}
	maps.Copy(b.keys, t.keys)
	maps.Copy(b.nonces, t.nonces)
	if t.settings != nil {
		b.settings = t.settings
	}
	for slot, name := range t.validators {
		if name == "" {
			delete(b.validators, slot)
			continue
		}
		b.validators[slot] = name
	}
	b.journal = append(b.journal, t.journal...)
	maps.Copy(b.published, t.published)
}
