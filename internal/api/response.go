// Package api implements the HTTP layer of the palaver server: the websocket
// upgrade endpoint, health and metrics endpoints, and the REST producer
// endpoints under /api/v1 that publish chat events onto the signal queue.
// Everything except health and metrics requires a valid JWT.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/events"
	"github.com/palaver-chat/palaver/internal/repositories"
)

// envelope wraps every response body:
//
//	{"data": <payload>}
//	{"error": {"message": "...", "code": "...", "details": ...}}
type envelope map[string]any

// JSON writes payload with the given status as application/json.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 with payload under "data".
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, envelope{"data": payload})
}

// Created writes a 201 with payload under "data". The producer endpoints use
// it for the chat or message they stored.
func Created(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusCreated, envelope{"data": payload})
}

// errorResponse is the shape of the "error" object in error responses.
// Details carries structured context when the status alone is not enough,
// such as the per-service state of a failed readiness check.
type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func errJSON(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, envelope{
		"error": errorResponse{Message: message, Code: code, Details: details},
	})
}

// ErrBadRequest writes a 400 for a request that could not be parsed.
func ErrBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, "bad_request", message, nil)
}

// ErrUnauthorized writes a 401 for a missing or invalid access token.
func ErrUnauthorized(w http.ResponseWriter) {
	errJSON(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// ErrUnavailable writes a 503 with the state of each backing service.
func ErrUnavailable(w http.ResponseWriter, message string, services map[string]string) {
	errJSON(w, http.StatusServiceUnavailable, "unavailable", message, services)
}

// ErrInternal writes a 500. The cause is logged by the caller, never sent.
func ErrInternal(w http.ResponseWriter) {
	errJSON(w, http.StatusInternalServerError, "internal_error", "an internal error occurred", nil)
}

// domainError maps a sentinel of the events or repositories layer to the
// response it produces. An empty message echoes err.Error(), which carries the
// validation detail.
type domainError struct {
	target  error
	status  int
	code    string
	message string
}

var domainErrors = []domainError{
	{events.ErrValidation, http.StatusUnprocessableEntity, "validation_error", ""},
	{events.ErrDuplicateChat, http.StatusConflict, "conflict", ""},
	{repositories.ErrConflict, http.StatusConflict, "conflict", "resource already exists"},
	{repositories.ErrPermissionDenied, http.StatusForbidden, "forbidden", "insufficient permissions"},
	{repositories.ErrNotFound, http.StatusNotFound, "not_found", "resource not found"},
}

// writeDomainError writes the response matching err. Errors outside the
// domain set are logged under op and answered with a 500.
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	for _, d := range domainErrors {
		if !errors.Is(err, d.target) {
			continue
		}
		message := d.message
		if message == "" {
			message = err.Error()
		}
		errJSON(w, d.status, d.code, message, nil)
		return
	}
	logger.Error("failed to "+op, zap.Error(err))
	ErrInternal(w)
}

// maxBodyBytes bounds the JSON body of producer requests.
const maxBodyBytes = 1 << 20

// decodeJSON decodes the request body into dst, rejecting unknown fields.
// On failure it writes a 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}