// Package httputil provides JSON response helpers shared by all HTTP
// handlers: a single error envelope derived from domain error codes and a
// generic request decoder.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "certfsm/pkg/domain-errors"
)

// errorResponse is the wire shape for all error replies.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// statusFor maps domain error codes to HTTP statuses. ca_pending maps to 202:
// the request was accepted but the authority produced no definitive outcome
// yet, so the caller should poll.
func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeAlreadyExists, dErrors.CodeInvalidTransition, dErrors.CodeConcurrentModification:
		return http.StatusConflict
	case dErrors.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeCAFailure:
		return http.StatusBadGateway
	case dErrors.CodeCAPending:
		return http.StatusAccepted
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes the error envelope for err. Internal errors omit the
// description so storage details never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := errorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		var e *dErrors.Error
		if errors.As(err, &e) {
			resp.ErrorDescription = e.Message
		} else {
			resp.ErrorDescription = err.Error()
		}
	}
	WriteJSON(w, statusFor(code), resp)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Validator is implemented by request types that check their own fields.
type Validator interface {
	Validate() error
}

// DecodeAndPrepare decodes a JSON request body into T and runs its
// validation. On failure it writes a bad_request response and returns false.
// An empty body decodes to the zero value, so endpoints with fully optional
// payloads accept bare POSTs.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, log *slog.Logger, ctx context.Context) (T, bool) {
	var req T

	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.DebugContext(ctx, "failed to decode request body", "error", err)
			WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed JSON body"))
			return req, false
		}
	}

	if v, ok := any(&req).(Validator); ok {
		if err := v.Validate(); err != nil {
			WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request"))
			return req, false
		}
	}
	return req, true
}
