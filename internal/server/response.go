package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/teamdock/teamdock/internal/admin"
	"github.com/teamdock/teamdock/internal/kvstore"
	"github.com/teamdock/teamdock/internal/registry"
	"github.com/teamdock/teamdock/internal/switchboard"
)

// ErrorResponse is the standard JSON error envelope returned by all HTTP
// error responses. Code carries the machine-readable error taxonomy value.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes exposed on the wire.
const (
	CodeNotFound                  = "NOT_FOUND"
	CodeAdminRequired             = "ADMIN_REQUIRED"
	CodeNotConfigured             = "NOT_CONFIGURED"
	CodeInvalidPassword           = "INVALID_PASSWORD"
	CodeUnexpectedCurrentPassword = "UNEXPECTED_CURRENT_PASSWORD"
	CodeEmptyPassword             = "EMPTY_PASSWORD"
	CodeNoPasswordConfigured      = "NO_PASSWORD_CONFIGURED"
	CodeAlreadySet                = "ALREADY_SET"
	CodeNoPendingSwitch           = "NO_PENDING_SWITCH"
	CodeDuplicateID               = "DUPLICATE_ID"
	CodeEmptyRegistry             = "EMPTY_REGISTRY"
	CodeStorageFailure            = "STORAGE_FAILURE"
	CodeBadRequest                = "BAD_REQUEST"
	CodeInternal                  = "INTERNAL"
)

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		log.Printf("[APIServer] failed to write response: %v", err)
	}
}

// writeError writes a JSON error envelope with the given status and code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeDomainError maps a domain error onto its HTTP status and wire code.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeError(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, registry.ErrAdminRequired):
		return http.StatusForbidden, CodeAdminRequired
	case errors.Is(err, admin.ErrNotConfigured):
		return http.StatusConflict, CodeNotConfigured
	case errors.Is(err, admin.ErrAlreadySet):
		return http.StatusConflict, CodeAlreadySet
	case errors.Is(err, registry.ErrInvalidPassword), errors.Is(err, admin.ErrInvalidPassword):
		return http.StatusForbidden, CodeInvalidPassword
	case errors.Is(err, registry.ErrUnexpectedCurrentPassword):
		return http.StatusBadRequest, CodeUnexpectedCurrentPassword
	case errors.Is(err, registry.ErrEmptyPassword), errors.Is(err, admin.ErrEmptyPassword):
		return http.StatusBadRequest, CodeEmptyPassword
	case errors.Is(err, registry.ErrNoPasswordConfigured):
		return http.StatusConflict, CodeNoPasswordConfigured
	case errors.Is(err, registry.ErrDuplicateID):
		return http.StatusBadRequest, CodeDuplicateID
	case errors.Is(err, registry.ErrEmptyRegistry):
		return http.StatusBadRequest, CodeEmptyRegistry
	case errors.Is(err, switchboard.ErrNoPendingSwitch):
		return http.StatusConflict, CodeNoPendingSwitch
	case kvstore.IsStorageFailure(err):
		return http.StatusInternalServerError, CodeStorageFailure
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
