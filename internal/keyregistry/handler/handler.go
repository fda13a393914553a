// Package handler exposes the key registry over HTTP/JSON.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/migration"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/keyregistry/service"
	id "keyregistry/pkg/domain"
	dErrors "keyregistry/pkg/domain-errors"
	"keyregistry/pkg/platform/httputil"
	"keyregistry/pkg/requestcontext"
)

// Service is the registry surface the handlers call.
type Service interface {
	Add(ctx context.Context, caller id.Address, in service.AddInput) error
	AddFor(ctx context.Context, caller id.Address, auth authz.AddAuthorization) error
	GatewayAdd(ctx context.Context, caller, owner id.Address, keyType id.KeyType, key []byte, metadataType id.MetadataType, metadata []byte) error
	Remove(ctx context.Context, caller id.Address, identity id.IdentityID, key []byte) error
	RemoveFor(ctx context.Context, caller id.Address, auth authz.RemoveAuthorization) error
	UseNonce(ctx context.Context, caller id.Address) (uint64, error)

	SetValidator(ctx context.Context, caller id.Address, slot models.ValidatorSlot, name string) error
	SetMaxKeysPerIdentity(ctx context.Context, caller id.Address, limit uint32) error
	SetGateway(ctx context.Context, caller, gateway id.Address) error
	FreezeGateway(ctx context.Context, caller id.Address) error
	SetMigrator(ctx context.Context, caller, migrator id.Address) error
	AddGuardian(ctx context.Context, caller, guardian id.Address) error
	RemoveGuardian(ctx context.Context, caller, guardian id.Address) error
	Pause(ctx context.Context, caller id.Address) error
	Unpause(ctx context.Context, caller id.Address) error

	Migrate(ctx context.Context, caller id.Address) error
	BulkAddForMigration(ctx context.Context, caller id.Address, items []models.BulkAddItem) error
	BulkResetForMigration(ctx context.Context, caller id.Address, items []models.BulkResetItem) error
	MigrationStatus(ctx context.Context) (migration.Status, error)

	KeyDataOf(ctx context.Context, identity id.IdentityID, key []byte) (models.KeyRecord, error)
	KeysOf(ctx context.Context, identity id.IdentityID, state models.KeyState) ([]models.KeyRef, error)
	TotalKeys(ctx context.Context, identity id.IdentityID, state models.KeyState) (int, error)
	KeyAt(ctx context.Context, identity id.IdentityID, state models.KeyState, index int) (models.KeyRef, error)
	Nonces(ctx context.Context, addr id.Address) (uint64, error)
	Settings(ctx context.Context) (models.Settings, error)
	ValidatorOf(ctx context.Context, slot models.ValidatorSlot) (string, error)
	Events(ctx context.Context, afterSeq uint64, limit int) ([]events.Event, error)
}

// Handler wires registry endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes. Reads are public; writes go through
// requireCaller, and /admin and /migration writes also through requireAdmin.
func (h *Handler) Register(r chi.Router, requireCaller, requireAdmin func(http.Handler) http.Handler) {
	r.Get("/identities/{identity}/keys", h.HandleKeysOf)
	r.Get("/identities/{identity}/keys/count", h.HandleTotalKeys)
	r.Get("/identities/{identity}/keys/at/{index}", h.HandleKeyAt)
	r.Get("/identities/{identity}/keys/{key}", h.HandleKeyData)
	r.Get("/nonces/{address}", h.HandleNonce)
	r.Get("/settings", h.HandleSettings)
	r.Get("/validators/{keyType}/{metadataType}", h.HandleValidatorOf)
	r.Get("/migration", h.HandleMigrationStatus)
	r.Get("/events", h.HandleEvents)

	r.Group(func(r chi.Router) {
		r.Use(requireCaller)
		r.Post("/keys/add", h.HandleAdd)
		r.Post("/keys/add-for", h.HandleAddFor)
		r.Post("/keys/gateway-add", h.HandleGatewayAdd)
		r.Post("/keys/remove", h.HandleRemove)
		r.Post("/keys/remove-for", h.HandleRemoveFor)
		r.Post("/nonces/use", h.HandleUseNonce)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/admin/validators", h.HandleSetValidator)
			r.Post("/admin/max-keys", h.HandleSetMaxKeys)
			r.Post("/admin/gateway", h.HandleSetGateway)
			r.Post("/admin/gateway/freeze", h.HandleFreezeGateway)
			r.Post("/admin/migrator", h.HandleSetMigrator)
			r.Post("/admin/guardians", h.HandleAddGuardian)
			r.Delete("/admin/guardians/{address}", h.HandleRemoveGuardian)
			r.Post("/admin/pause", h.HandlePause)
			r.Post("/admin/unpause", h.HandleUnpause)

			r.Post("/migration/migrate", h.HandleMigrate)
			r.Post("/migration/bulk-add", h.HandleBulkAdd)
			r.Post("/migration/bulk-reset", h.HandleBulkReset)
		})
	})
}

// decode reads and validates the body; on failure the response is written.
func decode[T any, PT interface {
	*T
	httputil.Validatable
}](h *Handler, w http.ResponseWriter, r *http.Request) (*T, bool) {
	ctx := r.Context()
	return httputil.DecodeAndPrepare[T, PT](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
}

// done writes the outcome of a command.
func (h *Handler) done(w http.ResponseWriter, err error) {
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[AddRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.Add(ctx, requestcontext.Caller(ctx), req.Input()))
}

func (h *Handler) HandleAddFor(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[AddForRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.AddFor(ctx, requestcontext.Caller(ctx), req.Authorization()))
}

func (h *Handler) HandleGatewayAdd(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[GatewayAddRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.GatewayAdd(ctx, requestcontext.Caller(ctx), req.Owner, req.KeyType, req.Key, req.MetadataType, req.Metadata))
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[RemoveRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.Remove(ctx, requestcontext.Caller(ctx), req.Identity, req.Key))
}

func (h *Handler) HandleRemoveFor(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[RemoveForRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.RemoveFor(ctx, requestcontext.Caller(ctx), req.Authorization()))
}

func (h *Handler) HandleUseNonce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)
	nonce, err := h.service.UseNonce(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, NonceResponse{Address: caller, Nonce: nonce})
}

func (h *Handler) HandleSetValidator(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[SetValidatorRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.SetValidator(ctx, requestcontext.Caller(ctx), req.Slot(), req.Validator))
}

func (h *Handler) HandleSetMaxKeys(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[SetMaxKeysRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.SetMaxKeysPerIdentity(ctx, requestcontext.Caller(ctx), req.MaxKeysPerIdentity))
}

func (h *Handler) HandleSetGateway(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[AddressRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.SetGateway(ctx, requestcontext.Caller(ctx), req.Address))
}

func (h *Handler) HandleFreezeGateway(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.done(w, h.service.FreezeGateway(ctx, requestcontext.Caller(ctx)))
}

func (h *Handler) HandleSetMigrator(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[AddressRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.SetMigrator(ctx, requestcontext.Caller(ctx), req.Address))
}

func (h *Handler) HandleAddGuardian(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[AddressRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.AddGuardian(ctx, requestcontext.Caller(ctx), req.Address))
}

func (h *Handler) HandleRemoveGuardian(w http.ResponseWriter, r *http.Request) {
	guardian, err := id.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()
	h.done(w, h.service.RemoveGuardian(ctx, requestcontext.Caller(ctx), guardian))
}

func (h *Handler) HandlePause(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.done(w, h.service.Pause(ctx, requestcontext.Caller(ctx)))
}

func (h *Handler) HandleUnpause(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.done(w, h.service.Unpause(ctx, requestcontext.Caller(ctx)))
}

func (h *Handler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.done(w, h.service.Migrate(ctx, requestcontext.Caller(ctx)))
}

func (h *Handler) HandleBulkAdd(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[BulkAddRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.BulkAddForMigration(ctx, requestcontext.Caller(ctx), req.Items))
}

func (h *Handler) HandleBulkReset(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[BulkResetRequest](h, w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	h.done(w, h.service.BulkResetForMigration(ctx, requestcontext.Caller(ctx), req.Items))
}

func (h *Handler) HandleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.MigrationStatus(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromStatus(status))
}

func (h *Handler) HandleKeyData(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityParam(w, r)
	if !ok {
		return
	}
	key, err := id.ParseHexBytes(chi.URLParam(r, "key"))
	if err != nil || len(key) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "key must be hex"))
		return
	}
	rec, err := h.service.KeyDataOf(r.Context(), identity, key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, KeyDataResponse{
		Identity: identity,
		KeyHash:  id.HashKey(key),
		State:    rec.State,
		KeyType:  rec.KeyType,
	})
}

func (h *Handler) HandleKeysOf(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityParam(w, r)
	if !ok {
		return
	}
	state, ok := stateQuery(w, r)
	if !ok {
		return
	}
	refs, err := h.service.KeysOf(r.Context(), identity, state)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, KeysResponse{Identity: identity, State: state, Keys: nonNil(refs)})
}

func (h *Handler) HandleTotalKeys(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityParam(w, r)
	if !ok {
		return
	}
	state, ok := stateQuery(w, r)
	if !ok {
		return
	}
	n, err := h.service.TotalKeys(r.Context(), identity, state)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CountResponse{Identity: identity, State: state, Total: n})
}

func (h *Handler) HandleKeyAt(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityParam(w, r)
	if !ok {
		return
	}
	state, ok := stateQuery(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "index must be an integer"))
		return
	}
	ref, err := h.service.KeyAt(r.Context(), identity, state, index)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ref)
}

func (h *Handler) HandleNonce(w http.ResponseWriter, r *http.Request) {
	addr, err := id.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	nonce, err := h.service.Nonces(r.Context(), addr)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, NonceResponse{Address: addr, Nonce: nonce})
}

func (h *Handler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.Settings(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if settings.Guardians == nil {
		settings.Guardians = []id.Address{}
	}
	httputil.WriteJSON(w, http.StatusOK, settings)
}

func (h *Handler) HandleValidatorOf(w http.ResponseWriter, r *http.Request) {
	keyType, err := strconv.ParseUint(chi.URLParam(r, "keyType"), 10, 32)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "keyType must be a uint32"))
		return
	}
	metadataType, err := strconv.ParseUint(chi.URLParam(r, "metadataType"), 10, 8)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "metadataType must be a uint8"))
		return
	}
	slot := models.ValidatorSlot{KeyType: id.KeyType(keyType), MetadataType: id.MetadataType(metadataType)}
	name, err := h.service.ValidatorOf(r.Context(), slot)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ValidatorResponse{KeyType: slot.KeyType, MetadataType: slot.MetadataType, Validator: name})
}

func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "after must be a sequence number"))
			return
		}
		after = v
	}
	var limit int
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = v
	}
	evs, err := h.service.Events(r.Context(), after, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEvents(evs, after))
}

func identityParam(w http.ResponseWriter, r *http.Request) (id.IdentityID, bool) {
	identity, err := id.ParseIdentityID(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	return identity, true
}

// stateQuery reads ?state=, defaulting to added.
func stateQuery(w http.ResponseWriter, r *http.Request) (models.KeyState, bool) {
	raw := r.URL.Query().Get("state")
	if raw == "" {
		return models.KeyStateAdded, true
	}
	state, err := models.ParseKeyState(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	return state, true
}
