package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/liwz/realtime/internal/apperr"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(status int) *ApiError {
	return &ApiError{
		StatusCode: status,
		Message:    lower(http.StatusText(status)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewTooManyRequestsError() *ApiError {
	return newApiError(http.StatusTooManyRequests)
}

func NewServiceUnavailableError(err error) *ApiError {
	e := newApiError(http.StatusServiceUnavailable)
	e.Err = err
	return e
}

// fromAppError maps an apperr error to the response sent to the caller.
// Client errors carry the error's message; everything else is a 500.
func fromAppError(err error) *ApiError {
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) {
		return NewInternalServerError(err)
	}

	var e *ApiError
	switch appErr.Code {
	case apperr.CodeNotFound, apperr.CodeInvalidTarget:
		e = NewNotFoundError()
	case apperr.CodeForbidden:
		e = NewForbiddenError()
	case apperr.CodeInvalidArgument:
		e = NewBadRequestError()
	case apperr.CodeUnauthenticated:
		e = NewUnauthorizedError()
	default:
		return NewInternalServerError(err)
	}

	e.Message = appErr.Message
	return e
}
