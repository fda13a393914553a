package handler

import (
	"time"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/migration"
	"keyregistry/internal/keyregistry/models"
	id "keyregistry/pkg/domain"
)

type KeyDataResponse struct {
	Identity id.IdentityID   `json:"identity"`
	KeyHash  id.KeyHash      `json:"key_hash"`
	State    models.KeyState `json:"state"`
	KeyType  id.KeyType      `json:"key_type"`
}

type KeysResponse struct {
	Identity id.IdentityID   `json:"identity"`
	State    models.KeyState `json:"state"`
	Keys     []models.KeyRef `json:"keys"`
}

type CountResponse struct {
	Identity id.IdentityID   `json:"identity"`
	State    models.KeyState `json:"state"`
	Total    int             `json:"total"`
}

type NonceResponse struct {
	Address id.Address `json:"address"`
	Nonce   uint64     `json:"nonce"`
}

type ValidatorResponse struct {
	KeyType      id.KeyType      `json:"key_type"`
	MetadataType id.MetadataType `json:"metadata_type"`
	Validator    string          `json:"validator"`
}

type MigrationResponse struct {
	Phase              migration.Phase `json:"phase"`
	Migrated           bool            `json:"migrated"`
	MigratedAt         *time.Time      `json:"migrated_at,omitempty"`
	ClosesAt           *time.Time      `json:"closes_at,omitempty"`
	GracePeriodSeconds int64           `json:"grace_period_seconds"`
}

func FromStatus(s migration.Status) MigrationResponse {
	resp := MigrationResponse{
		Phase:              s.Phase,
		Migrated:           s.Migrated,
		GracePeriodSeconds: int64(s.GracePeriod.Seconds()),
	}
	if s.Migrated {
		migratedAt, closesAt := s.MigratedAt, s.ClosesAt
		resp.MigratedAt = &migratedAt
		resp.ClosesAt = &closesAt
	}
	return resp
}

// EventsResponse is one page of the journal. Next is the cursor for the
// following page.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
}

func FromEvents(evs []events.Event, after uint64) EventsResponse {
	next := after
	if len(evs) > 0 {
		next = evs[len(evs)-1].Seq
	}
	return EventsResponse{Events: nonNil(evs), Next: next}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
