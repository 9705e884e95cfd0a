package httpdto

import (
	"errors"
	"net/http"
	"runtime/debug"

	flow_errors "eventflow/pkg/errors"
)

// ErrorResponse is the error envelope: a kind from the taxonomy, a
// human message, optional details, and a stack outside production.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

const (
	KindValidation = "validation"
	KindNotFound   = "not-found"
	KindConflict   = "conflict"
	KindInternal   = "internal"
)

// StatusAndKind maps a service error to its HTTP status and taxonomy
// kind.
func StatusAndKind(err error) (int, string) {
	switch {
	case errors.Is(err, flow_errors.ErrInvalidInput),
		errors.Is(err, flow_errors.ErrInvalidCondition),
		errors.Is(err, flow_errors.ErrUnknownAction):
		return http.StatusBadRequest, KindValidation
	case errors.Is(err, flow_errors.ErrNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, flow_errors.ErrConflict):
		return http.StatusConflict, KindConflict
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// NewErrorResponse renders err into the envelope. The stack is only
// attached outside production.
func NewErrorResponse(err error, environment string) ErrorResponse {
	_, kind := StatusAndKind(err)
	resp := ErrorResponse{
		Error:   kind,
		Message: err.Error(),
	}
	if environment != "production" && kind == KindInternal {
		resp.Stack = string(debug.Stack())
	}
	return resp
}
