// Package migration tracks the one-shot migration and the bounded grace
// period during which the migrator may correct keys in bulk.
package migration

import (
	"time"

	"keyregistry/internal/keyregistry/models"
	dErrors "keyregistry/pkg/domain-errors"
)

// Phase is derived from the migration state and the current time; it is never stored.
type Phase string

const (
	PhasePreMigration Phase = "pre_migration"
	PhaseGracePeriod  Phase = "grace_period"
	PhaseClosed       Phase = "closed"
)

// DefaultGracePeriod applies when none is configured.
const DefaultGracePeriod = 24 * time.Hour

// Status is the externally visible migration state.
type Status struct {
	Phase       Phase         `json:"phase"`
	Migrated    bool          `json:"migrated"`
	MigratedAt  time.Time     `json:"migrated_at,omitzero"`
	ClosesAt    time.Time     `json:"closes_at,omitzero"`
	GracePeriod time.Duration `json:"grace_period"`
}

// Controller evaluates the window. Its grace period is only the value
// recorded by ApplyMigrate; once migrated, the recorded value governs.
type Controller struct {
	gracePeriod time.Duration
}

func New(gracePeriod time.Duration) *Controller {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &Controller{gracePeriod: gracePeriod}
}

func (c *Controller) GracePeriod() time.Duration { return c.gracePeriod }

// window is the grace period in force for state. States persisted before the
// period was recorded fall back to the configured value.
func (c *Controller) window(state models.MigrationState) time.Duration {
	if state.GracePeriod > 0 {
		return state.GracePeriod
	}
	return c.gracePeriod
}

// Phase reports the phase at now. The window is closed on both ends:
// now == migratedAt + gracePeriod is still GRACE_PERIOD.
func (c *Controller) Phase(state models.MigrationState, now time.Time) Phase {
	if !state.Migrated {
		return PhasePreMigration
	}
	if now.After(state.MigratedAt.Add(c.window(state))) {
		return PhaseClosed
	}
	return PhaseGracePeriod
}

// CheckWindow allows bulk operations only before the window closes.
func (c *Controller) CheckWindow(state models.MigrationState, now time.Time) error {
	if c.Phase(state, now) == PhaseClosed {
		return dErrors.New(dErrors.CodePermissionRevoked, "migration grace period has ended")
	}
	return nil
}

// CanMigrate allows Migrate exactly once.
func (c *Controller) CanMigrate(state models.MigrationState) error {
	if state.Migrated {
		return dErrors.New(dErrors.CodeAlreadyMigrated, "migration already performed")
	}
	return nil
}

// ApplyMigrate starts the grace period at now and records its length, so a
// later change of configuration cannot move the end of the window.
// Call CanMigrate first.
func (c *Controller) ApplyMigrate(state *models.MigrationState, now time.Time) {
	state.Migrated = true
	state.MigratedAt = now.UTC()
	state.GracePeriod = c.gracePeriod
}

func (c *Controller) Status(state models.MigrationState, now time.Time) Status {
	st := Status{
		Phase:       c.Phase(state, now),
		Migrated:    state.Migrated,
		GracePeriod: c.window(state),
	}
	if state.Migrated {
		st.MigratedAt = state.MigratedAt
		st.ClosesAt = state.MigratedAt.Add(st.GracePeriod)
	}
	return st
}
