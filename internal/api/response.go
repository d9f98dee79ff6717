package api

import (
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// Set when a broadcast failed part way through.
	DispatchID       string                 `json:"dispatchId,omitempty"`
	CompletedBatches []dispatch.BatchResult `json:"completedBatches,omitempty"`
}

// WriteError writes an ErrorResponse.
func WriteError(w http.ResponseWriter, status int, msg, details string) {
	response.WriteJSON(w, status, ErrorResponse{Error: msg, Details: details})
}
