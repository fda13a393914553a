// Package service orchestrates the key registry. Every public operation runs
// as exactly one store transaction: settings (pause flag, roles, migration
// state) are re-read inside it, preconditions are checked, and the state
// change and its event are written together or not at all.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/metrics"
	"keyregistry/internal/keyregistry/migration"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/keyregistry/store"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
	"keyregistry/pkg/platform/sentinel"
	"keyregistry/pkg/requestcontext"
)

// Authorizer resolves the direct and delegated authorization paths.
type Authorizer interface {
	Direct(ctx context.Context, caller id.Address, identity id.IdentityID) error
	IdentityOf(ctx context.Context, owner id.Address) (id.IdentityID, error)
	AuthorizeAdd(ctx context.Context, nonces authz.Nonces, auth authz.AddAuthorization) (id.IdentityID, error)
	AuthorizeRemove(ctx context.Context, nonces authz.Nonces, auth authz.RemoveAuthorization) (id.IdentityID, error)
}

// Dispatcher runs the validator mapped to a slot.
type Dispatcher interface {
	Dispatch(ctx context.Context, mappings map[models.ValidatorSlot]string, slot models.ValidatorSlot, identity id.IdentityID, key, metadata []byte) error
	Names() []string
}

// Service implements the key registry operations.
type Service struct {
	tx         store.Tx
	authorizer Authorizer
	validators Dispatcher
	migration  *migration.Controller
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service.
func New(tx store.Tx, authorizer Authorizer, validators Dispatcher, ctrl *migration.Controller, opts ...Option) *Service {
	s := &Service{
		tx:         tx,
		authorizer: authorizer,
		validators: validators,
		migration:  ctrl,
		tracer:     otel.Tracer("keyregistry/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap persists the initial settings and validator mappings unless
// settings already exist. It is idempotent across restarts.
func (s *Service) Bootstrap(ctx context.Context, initial models.Settings, validators map[models.ValidatorSlot]string) error {
	return s.tx.RunInTx(ctx, func(st store.Store) error {
		_, err := st.LoadSettings(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load settings")
		}
		if initial.Owner.IsZero() {
			return dErrors.New(dErrors.CodeInvalidInput, "owner is required")
		}
		known := make(map[string]bool)
		for _, name := range s.validators.Names() {
			known[name] = true
		}
		for slot, name := range validators {
			if !known[name] {
				return dErrors.New(dErrors.CodeValidatorNotFound, "unknown validator "+name)
			}
			if err := st.SaveValidator(ctx, slot, name); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save validator")
			}
		}
		if err := st.SaveSettings(ctx, initial); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save settings")
		}
		s.logAudit(ctx, "registry_bootstrapped", "owner", initial.Owner.String())
		return nil
	})
}

// txn is the per-call view a mutation works against.
type txn struct {
	st       store.Store
	settings models.Settings
	now      time.Time
	caller   id.Address
	emitted  []events.Event
}

func (t *txn) emit(ctx context.Context, e events.Event) error {
	if err := t.st.AppendEvent(ctx, &e); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append event")
	}
	t.emitted = append(t.emitted, e)
	return nil
}

func (t *txn) saveSettings(ctx context.Context) error {
	if err := t.st.SaveSettings(ctx, t.settings); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save settings")
	}
	return nil
}

func (t *txn) requireUnpaused() error {
	if t.settings.Paused {
		return dErrors.New(dErrors.CodePaused, "registry is paused")
	}
	return nil
}

func (t *txn) requirePaused() error {
	if !t.settings.Paused {
		return dErrors.New(dErrors.CodeNotPaused, "registry must be paused")
	}
	return nil
}

// mutate runs fn in one transaction and, after commit, logs and counts what
// it emitted. Failures are logged once here.
func (s *Service) mutate(ctx context.Context, operation string, caller id.Address, fn func(t *txn) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "keyregistry."+operation,
		trace.WithAttributes(attribute.String("caller", caller.String())))
	defer span.End()

	var committed *txn
	err := s.tx.RunInTx(ctx, func(st store.Store) error {
		settings, err := st.LoadSettings(ctx)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeInternal, "registry is not bootstrapped")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load settings")
		}
		now, err := logicalNow(ctx, st)
		if err != nil {
			return err
		}
		t := &txn{st: st, settings: settings, now: now, caller: caller}
		if err := fn(t); err != nil {
			return err
		}
		committed = t
		return nil
	})
	if err != nil {
		err = s.fail(ctx, span, operation, caller, start, err)
		return err
	}

	span.SetAttributes(attribute.Int("events", len(committed.emitted)))
	s.observe(operation, "ok", start)
	for _, e := range committed.emitted {
		s.logEvent(ctx, e)
	}
	if s.metrics != nil {
		s.metrics.SetPaused(committed.settings.Paused)
		s.metrics.SetMigrated(committed.settings.Migration.Migrated)
	}
	return nil
}

// logicalNow is the request time raised to the newest journal entry, so the
// journal's OccurredAt never decreases even when requests stamped earlier
// commit later.
func logicalNow(ctx context.Context, st store.Store) (time.Time, error) {
	now := requestcontext.Now(ctx)
	last, err := st.LastEventAt(ctx)
	if err != nil {
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read journal")
	}
	if now.Before(last) {
		return last, nil
	}
	return now, nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, operation string, caller id.Address, start time.Time, err error) error {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "registry operation failed")
	}
	code := dErrors.CodeOf(err)
	span.SetStatus(codes.Error, string(code))
	span.RecordError(err)
	s.observe(operation, string(code), start)
	if s.logger != nil {
		level := slog.LevelWarn
		if code == dErrors.CodeInternal || code == dErrors.CodeTimeout {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "registry operation rejected",
			"operation", operation,
			"caller", caller.String(),
			"code", string(code),
			"error", err.Error(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return err
}

func (s *Service) observe(operation, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, outcome, start)
	}
}

func (s *Service) logEvent(ctx context.Context, e events.Event) {
	attributes := []any{"seq", e.Seq, "actor", e.Actor.String()}
	if !e.Identity.IsNil() {
		attributes = append(attributes, "identity", e.Identity.String())
	}
	if e.KeyHash != nil {
		attributes = append(attributes, "key_hash", e.KeyHash.String())
	}
	for k, v := range e.Attributes {
		attributes = append(attributes, k, v)
	}
	s.logAudit(ctx, string(e.Type), attributes...)
	if e.Type.IsKeyEvent() && s.metrics != nil {
		s.metrics.IncrementTransition(string(e.Type))
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

// read runs a query in a transaction so it sees a consistent snapshot.
func (s *Service) read(ctx context.Context, fn func(st store.Store) error) error {
	err := s.tx.RunInTx(ctx, fn)
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "registry query failed")
}
