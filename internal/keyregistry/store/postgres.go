package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/keyregistry/store/migrations"
	"keyregistry/internal/platform/storage/pgmigrate"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
	"keyregistry/pkg/platform/sentinel"
	txcontext "keyregistry/pkg/platform/tx"
)

// Postgres persists the registry in PostgreSQL. Outside a transaction it uses
// the *sql.Tx carried by the context, if any, and the pool otherwise.
//
// Identities are stored as BIGINT, so only identities below 2^63 are supported.
type Postgres struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// NewPostgresTx binds a store to an open transaction.
func NewPostgresTx(tx *sql.Tx) *Postgres {
	return &Postgres{tx: tx}
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	return pgmigrate.Apply(ctx, db, migrations.FS, ".")
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Get(ctx context.Context, identity id.IdentityID, hash id.KeyHash) (models.KeyRecord, error) {
	var (
		state   int16
		keyType int64
	)
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT state, key_type FROM registry_keys WHERE identity = $1 AND key_hash = $2`,
		int64(identity), hash[:],
	).Scan(&state, &keyType)
	if errors.Is(err, sql.ErrNoRows) {
		return models.KeyRecord{}, nil
	}
	if err != nil {
		return models.KeyRecord{}, fmt.Errorf("get key: %w", err)
	}
	return models.KeyRecord{State: models.KeyState(state), KeyType: id.KeyType(keyType)}, nil
}

func (s *Postgres) Put(ctx context.Context, ref models.KeyRef, record models.KeyRecord) error {
	// The ordinal only advances when the state changes, so ListKeys keeps
	// transition order.
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO registry_keys (identity, key_hash, key_bytes, state, key_type, ordinal)
		VALUES ($1, $2, $3, $4, $5, nextval('registry_key_ordinal'))
		ON CONFLICT (identity, key_hash) DO UPDATE SET
			state = EXCLUDED.state,
			key_type = EXCLUDED.key_type,
			ordinal = CASE WHEN registry_keys.state = EXCLUDED.state
				THEN registry_keys.ordinal ELSE EXCLUDED.ordinal END
	`, int64(ref.Identity), ref.Hash[:], []byte(ref.Key), int16(record.State), int64(record.KeyType))
	if err != nil {
		return fmt.Errorf("put key: %w", err)
	}
	return nil
}

func (s *Postgres) ListKeys(ctx context.Context, identity id.IdentityID, state models.KeyState) ([]models.KeyRef, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT key_hash, key_bytes FROM registry_keys
		WHERE identity = $1 AND state = $2
		ORDER BY ordinal
	`, int64(identity), int16(state))
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var refs []models.KeyRef
	for rows.Next() {
		var hash, key []byte
		if err := rows.Scan(&hash, &key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		ref := models.KeyRef{Identity: identity, Key: key}
		copy(ref.Hash[:], hash)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return refs, nil
}

func (s *Postgres) CountKeys(ctx context.Context, identity id.IdentityID, state models.KeyState) (int, error) {
	var n int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registry_keys WHERE identity = $1 AND state = $2`,
		int64(identity), int16(state),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count keys: %w", err)
	}
	return n, nil
}

func (s *Postgres) KeyAt(ctx context.Context, identity id.IdentityID, state models.KeyState, index int) (models.KeyRef, error) {
	if index < 0 {
		return models.KeyRef{}, sentinel.ErrNotFound
	}
	var hash, key []byte
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT key_hash, key_bytes FROM registry_keys
		WHERE identity = $1 AND state = $2
		ORDER BY ordinal
		OFFSET $3 LIMIT 1
	`, int64(identity), int16(state), int64(index)).Scan(&hash, &key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.KeyRef{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.KeyRef{}, fmt.Errorf("key at: %w", err)
	}
	ref := models.KeyRef{Identity: identity, Key: key}
	copy(ref.Hash[:], hash)
	return ref, nil
}

func (s *Postgres) NonceOf(ctx context.Context, addr id.Address) (uint64, error) {
	var n int64
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT nonce FROM registry_nonces WHERE address = $1`, addr[:],
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return uint64(n), nil
}

func (s *Postgres) UseNonce(ctx context.Context, addr id.Address) (uint64, error) {
	var next int64
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO registry_nonces (address, nonce) VALUES ($1, 1)
		ON CONFLICT (address) DO UPDATE SET nonce = registry_nonces.nonce + 1
		RETURNING nonce
	`, addr[:]).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("use nonce: %w", err)
	}
	return uint64(next - 1), nil
}

func (s *Postgres) LoadSettings(ctx context.Context) (models.Settings, error) {
	var payload []byte
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT payload FROM registry_settings WHERE id = 1`,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Settings{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	var settings models.Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return models.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

func (s *Postgres) SaveSettings(ctx context.Context, settings models.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO registry_settings (id, payload) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload
	`, payload)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *Postgres) LoadValidators(ctx context.Context) (map[models.ValidatorSlot]string, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT key_type, metadata_type, name FROM registry_validators`)
	if err != nil {
		return nil, fmt.Errorf("load validators: %w", err)
	}
	defer rows.Close()

	out := make(map[models.ValidatorSlot]string)
	for rows.Next() {
		var (
			keyType      int64
			metadataType int16
			name         string
		)
		if err := rows.Scan(&keyType, &metadataType, &name); err != nil {
			return nil, fmt.Errorf("scan validator: %w", err)
		}
		out[models.ValidatorSlot{KeyType: id.KeyType(keyType), MetadataType: id.MetadataType(metadataType)}] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validators: %w", err)
	}
	return out, nil
}

func (s *Postgres) SaveValidator(ctx context.Context, slot models.ValidatorSlot, name string) error {
	var err error
	if name == "" {
		_, err = s.execer(ctx).ExecContext(ctx,
			`DELETE FROM registry_validators WHERE key_type = $1 AND metadata_type = $2`,
			int64(slot.KeyType), int16(slot.MetadataType))
	} else {
		_, err = s.execer(ctx).ExecContext(ctx, `
			INSERT INTO registry_validators (key_type, metadata_type, name) VALUES ($1, $2, $3)
			ON CONFLICT (key_type, metadata_type) DO UPDATE SET name = EXCLUDED.name
		`, int64(slot.KeyType), int16(slot.MetadataType), name)
	}
	if err != nil {
		return fmt.Errorf("save validator: %w", err)
	}
	return nil
}

func (s *Postgres) AppendEvent(ctx context.Context, event *events.Event) error {
	var seq int64
	err := s.execer(ctx).QueryRowContext(ctx,
		`UPDATE registry_journal SET head = head + 1 WHERE id = 1 RETURNING head`,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("advance journal: %w", err)
	}
	event.Seq = uint64(seq)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	var identity sql.NullInt64
	if !event.Identity.IsNil() {
		identity = sql.NullInt64{Int64: int64(event.Identity), Valid: true}
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO registry_events (seq, event_type, identity, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, seq, string(event.Type), identity, payload, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// LastEventAt reads the time from the payload, which keeps the nanoseconds
// the occurred_at column drops.
func (s *Postgres) LastEventAt(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT payload->>'occurred_at' FROM registry_events ORDER BY seq DESC LIMIT 1`,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last event time: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last event time: %w", err)
	}
	return at, nil
}

func (s *Postgres) Events(ctx context.Context, afterSeq uint64, limit int) ([]events.Event, error) {
	query := `SELECT payload FROM registry_events WHERE seq > $1 ORDER BY seq`
	args := []any{int64(afterSeq)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

func (s *Postgres) PendingEvents(ctx context.Context, limit int) ([]events.Event, error) {
	query := `SELECT payload FROM registry_events WHERE published_at IS NULL ORDER BY seq`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

func (s *Postgres) MarkPublished(ctx context.Context, seqs []uint64, at time.Time) error {
	if len(seqs) == 0 {
		return nil
	}
	ints := make([]int64, len(seqs))
	for i, seq := range seqs {
		ints[i] = int64(seq)
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE registry_events SET published_at = $2
		WHERE seq = ANY($1) AND published_at IS NULL
	`, pq.Array(ints), at)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

func (s *Postgres) queryEvents(ctx context.Context, query string, args ...any) ([]events.Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e events.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// PostgresTx runs callbacks in SERIALIZABLE transactions.
type PostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresRunner(db *sql.DB) *PostgresTx {
	return &PostgresTx{db: db}
}

// RunInTx runs fn in a new SERIALIZABLE transaction. When ctx already carries
// a transaction (see txcontext.WithTx), fn joins it and the owner of that
// transaction decides whether to commit.
func (t *PostgresTx) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if outer, ok := txcontext.From(ctx); ok {
		return fn(NewPostgresTx(outer))
	}
	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(NewPostgresTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return fmt.Errorf("commit tx: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}
