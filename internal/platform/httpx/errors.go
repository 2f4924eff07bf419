package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for transport level failures.
var (
	ErrBadRequest   = errors.New("malformed request")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// FieldErrorer is implemented by errors carrying per-field messages.
type FieldErrorer interface {
	FieldErrors() map[string]string
}

// StatusCoder lets domain errors choose their HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// RespondError maps err onto an error envelope. Unknown errors become a 500
// without leaking their message.
func RespondError(w http.ResponseWriter, err error) {
	var fields map[string]string
	var fe FieldErrorer
	if errors.As(err, &fe) {
		fields = fe.FieldErrors()
	}
	var sc StatusCoder
	switch {
	case errors.Is(err, ErrBadRequest):
		Fail(w, http.StatusBadRequest, err.Error(), fields)
	case errors.Is(err, ErrUnauthorized):
		Fail(w, http.StatusUnauthorized, err.Error(), nil)
	case errors.Is(err, ErrForbidden):
		Fail(w, http.StatusForbidden, err.Error(), nil)
	case errors.As(err, &sc) && sc.HTTPStatus() < http.StatusInternalServerError:
		Fail(w, sc.HTTPStatus(), err.Error(), fields)
	default:
		Fail(w, http.StatusInternalServerError, "", nil)
	}
}
