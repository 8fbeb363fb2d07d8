// Package api holds the shared HTTP error taxonomy and response helpers
// used by the gateway, panel, and kiosk-local servers (spec §7).
package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/lockergrid/core/internal/qrproto"
	"github.com/lockergrid/core/internal/store"
)

// Error is a boundary-facing error carrying the HTTP status and stable
// machine-readable code the handler should surface. Internal layers
// never construct these directly; handlers translate domain errors at
// the edge (spec §7 "Propagation policy").
type Error struct {
	Status  int
	Code    string
	Message string
	TraceID string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func newError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message, TraceID: uuid.NewString()}
}

func Validation(code, message string) *Error      { return newError(http.StatusBadRequest, code, message) }
func Semantic(code, message string) *Error        { return newError(http.StatusUnprocessableEntity, code, message) }
func Conflict(code, message string) *Error        { return newError(http.StatusConflict, code, message) }
func Unauthorized(code, message string) *Error    { return newError(http.StatusUnauthorized, code, message) }
func Forbidden(code, message string) *Error       { return newError(http.StatusForbidden, code, message) }
func Locked(code, message string) *Error          { return newError(http.StatusLocked, code, message) }
func RateLimited(code, message string) *Error     { return newError(http.StatusTooManyRequests, code, message) }
func ServiceDown(code, message string) *Error     { return newError(http.StatusServiceUnavailable, code, message) }
func Internal(code, message string) *Error        { return newError(http.StatusInternalServerError, code, message) }
func NotFound(code, message string) *Error        { return newError(http.StatusNotFound, code, message) }

// Translate maps a domain error returned by the store or qrproto
// packages onto the boundary taxonomy of spec §7. Handlers call
// this exactly once, at the edge; everything upstream returns typed
// Go errors.
func Translate(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return NotFound("LOCKER_NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrBusy):
		return Conflict("LOCKER_BUSY", err.Error())
	case errors.Is(err, store.ErrOwnerAlreadyHasLocker):
		return Conflict("OWNER_HAS_LOCKER", err.Error())
	case errors.Is(err, store.ErrVipBlocked), errors.Is(err, store.ErrVipProtected):
		return Locked("VIP_LOCKED", err.Error())
	case errors.Is(err, store.ErrNotOwner):
		return Semantic("NOT_OWNER", err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		return Semantic("INVALID_TRANSITION", err.Error())
	case errors.Is(err, store.ErrVersionConflict):
		return Internal("VERSION_CONFLICT", err.Error())
	case errors.Is(err, qrproto.ErrTokenExpired):
		return Validation("TOKEN_EXPIRED", err.Error())
	case errors.Is(err, qrproto.ErrSignatureMismatch), errors.Is(err, qrproto.ErrFieldMismatch):
		return Forbidden("TOKEN_INVALID", err.Error())
	default:
		return Internal("INTERNAL", err.Error())
	}
}
