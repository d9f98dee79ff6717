package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

const maxRequestBytes = 1 << 20

const (
	MessageSent         = "Notification sent"
	MessageNoRecipients = "No recipients have a delivery token"
	ErrorNoTokens       = "No tokens"
)

// Dispatcher runs one validated request against the delivery backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error)
}

// Backend is initialized once before the first dispatch.
type Backend interface {
	Init(ctx context.Context) error
}

// SendResponse is the 200 body of the send endpoint. Which fields are set
// depends on the audience.
type SendResponse struct {
	Success      bool                   `json:"success"`
	Message      string                 `json:"message"`
	Error        string                 `json:"error,omitempty"`
	Audience     dispatch.AudienceKind  `json:"audience,omitempty"`
	Response     string                 `json:"response,omitempty"`
	DispatchID   string                 `json:"dispatchId,omitempty"`
	TotalTokens  *int                   `json:"totalTokens,omitempty"`
	SuccessCount *int                   `json:"successCount,omitempty"`
	FailureCount *int                   `json:"failureCount,omitempty"`
	Batches      []dispatch.BatchResult `json:"batches,omitempty"`
}

// SendAPI serves the notification endpoint.
type SendAPI struct {
	dispatcher Dispatcher
	backend    Backend
	auth       *Authenticator
	observer   dispatch.Observer
	logger     *slog.Logger
}

// NewSendAPI creates the handler. observer may be nil.
func NewSendAPI(dispatcher Dispatcher, backend Backend, auth *Authenticator, observer dispatch.Observer, logger *slog.Logger) *SendAPI {
	return &SendAPI{
		dispatcher: dispatcher,
		backend:    backend,
		auth:       auth,
		observer:   observer,
		logger:     logger.With("component", "send_api"),
	}
}

// ServeHTTP handles the method check itself so that rejected methods still
// receive a JSON body.
func (a *SendAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
		a.handleSend(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	}
}

func (a *SendAPI) handleSend(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !a.auth.Check(r) {
		a.logger.Warn("Rejected request with missing or wrong API key", "remote", r.RemoteAddr)
		a.observe("", "unauthorized", start)
		WriteError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	req, err := dispatch.DecodeRequest(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		a.logger.Debug("Rejected invalid request", "err", err)
		a.observe("", "bad_request", start)
		WriteError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	audience := req.Audience.Kind

	if err := a.backend.Init(ctx); err != nil {
		a.logger.Error("Delivery backend unavailable", "err", err)
		a.observe(audience, "backend_unavailable", start)
		WriteError(w, http.StatusInternalServerError, "Delivery backend unavailable", err.Error())
		return
	}

	result, err := a.dispatcher.Dispatch(ctx, req)
	if err != nil {
		a.writeDispatchError(w, audience, result, err, start)
		return
	}

	a.observe(audience, outcomeOf(result), start)
	response.WriteJSON(w, http.StatusOK, toSendResponse(result))
}

func (a *SendAPI) writeDispatchError(w http.ResponseWriter, audience dispatch.AudienceKind, result *dispatch.Result, err error, start time.Time) {
	body := ErrorResponse{Error: "Failed to send notification", Details: err.Error()}
	outcome := "dispatch_error"
	if errors.Is(err, dispatch.ErrDirectoryLookup) {
		body.Error = "Failed to read recipient directory"
		outcome = "directory_error"
	}
	if result != nil && result.Summary != nil && len(result.Summary.Batches) > 0 {
		body.DispatchID = result.Summary.DispatchID
		body.CompletedBatches = result.Summary.Batches
	}

	a.logger.Error("Dispatch failed", "audience", audience, "err", err, "completed_batches", len(body.CompletedBatches))
	a.observe(audience, outcome, start)
	response.WriteJSON(w, http.StatusInternalServerError, body)
}

func (a *SendAPI) observe(audience dispatch.AudienceKind, outcome string, start time.Time) {
	if a.observer != nil {
		a.observer.ObserveRequest(audience, outcome, time.Since(start))
	}
}

func outcomeOf(result *dispatch.Result) string {
	if result.NoRecipients {
		return "no_recipients"
	}
	return "ok"
}

func toSendResponse(result *dispatch.Result) SendResponse {
	if result.NoRecipients {
		return SendResponse{Success: false, Error: ErrorNoTokens, Message: MessageNoRecipients}
	}

	resp := SendResponse{Success: true, Message: MessageSent, Audience: result.Audience}
	switch result.Audience {
	case dispatch.AudienceAll:
		s := result.Summary
		resp.DispatchID = s.DispatchID
		resp.TotalTokens = &s.TotalTokens
		resp.SuccessCount = &s.SuccessCount
		resp.FailureCount = &s.FailureCount
		resp.Batches = s.Batches
	case dispatch.AudienceTokens:
		s := result.Summary
		resp.SuccessCount = &s.SuccessCount
		resp.FailureCount = &s.FailureCount
	default:
		resp.Response = result.Receipt
	}
	return resp
}
