package server

import (
	"errors"
	"net/http"

	"github.com/weintegritywork/weintegrity-ppm/internal/account"
	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/chat"
	"github.com/weintegritywork/weintegrity-ppm/internal/crud"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeTooLarge        = "PAYLOAD_TOO_LARGE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeUnavailable     = "UPSTREAM_UNAVAILABLE"
	CodeInternalError   = "INTERNAL_ERROR"
)

var (
	errBadRequest  = errors.New("bad request")
	errTooLarge    = errors.New("payload too large")
	errRateLimited = errors.New("too many requests")
	errNotFound    = errors.New("not found")
	errNotAllowed  = errors.New("not allowed")
)

// errorBody is the error envelope. Detail repeats the message for clients
// that read a flat "detail" field.
type errorBody struct {
	Error  errorDetail `json:"error"`
	Detail string      `json:"detail"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps an error to its HTTP status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge, CodeTooLarge
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, account.ErrCredentials):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, auth.ErrForbidden),
		errors.Is(err, account.ErrInactive),
		errors.Is(err, errNotAllowed):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, crud.ErrNotFound),
		errors.Is(err, chat.ErrNotFound),
		errors.Is(err, account.ErrNotFound),
		errors.Is(err, errNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, crud.ErrConflict),
		errors.Is(err, account.ErrConflict),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, crud.ErrInvalid),
		errors.Is(err, chat.ErrInvalid),
		errors.Is(err, account.ErrInvalid),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, CodeValidationError
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// publicMessage is what the client sees. Server-side failure details stay in
// the log.
func publicMessage(err error, status int) string {
	var pub *account.Error
	if errors.As(err, &pub) {
		return pub.Message
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return "Invalid or expired token"
	case errors.Is(err, auth.ErrUnauthenticated):
		return "Authentication credentials were not provided"
	case errors.Is(err, auth.ErrForbidden):
		return "You do not have permission to perform this action"
	case status == http.StatusServiceUnavailable:
		return "Storage is temporarily unavailable"
	case status >= 500:
		return "Internal server error"
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := publicMessage(err, status)
	if status >= 500 {
		loggerFrom(r).Error("request failed", "status", status, "error", err)
	}
	writeJSONStatus(w, status, errorBody{
		Error:  errorDetail{Code: code, Message: msg},
		Detail: msg,
	})
}
