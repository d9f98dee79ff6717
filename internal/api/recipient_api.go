package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// RecipientAPI lets trusted callers maintain the recipient directory.
type RecipientAPI struct {
	Registry dispatch.Registry
	Logger   *slog.Logger
}

func NewRecipientAPI(registry dispatch.Registry, logger *slog.Logger) *RecipientAPI {
	return &RecipientAPI{
		Registry: registry,
		Logger:   logger.With("component", "recipient_api"),
	}
}

type RegisterRequest struct {
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
}

type UnregisterRequest struct {
	Recipient string `json:"recipient"`
}

func (api *RecipientAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	recipient, err := urn.Parse(req.Recipient)
	if err != nil || recipient.IsZero() {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid recipient urn")
		return
	}
	if !dispatch.IsValidToken(req.Token) {
		response.WriteJSONError(w, http.StatusBadRequest, "missing or malformed token")
		return
	}

	if err := api.Registry.Register(ctx, recipient, req.Token); err != nil {
		api.Logger.Error("Failed to register recipient", "recipient", recipient.String(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	api.Logger.Info("Recipient registered", "recipient", recipient.String())
	w.WriteHeader(http.StatusNoContent)
}

func (api *RecipientAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UnregisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	recipient, err := urn.Parse(req.Recipient)
	if err != nil || recipient.IsZero() {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid recipient urn")
		return
	}

	// Unregister is idempotent; a storage failure is logged, not surfaced.
	if err := api.Registry.Unregister(ctx, recipient); err != nil {
		api.Logger.Warn("Failed to unregister recipient", "recipient", recipient.String(), "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
