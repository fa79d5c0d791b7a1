package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chatgenius/internal/database"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
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

func NewBadRequestError(message string) *ApiError {
	if message == "" {
		message = lower(http.StatusText(http.StatusBadRequest))
	}
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Code:       "bad_request",
		Message:    message,
	}
}

func NewUnauthorizedError(message string) *ApiError {
	if message == "" {
		message = lower(http.StatusText(http.StatusUnauthorized))
	}
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Code:       "unauthorized",
		Message:    message,
	}
}

func NewForbiddenError(message string) *ApiError {
	if message == "" {
		message = lower(http.StatusText(http.StatusForbidden))
	}
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Code:       "forbidden",
		Message:    message,
	}
}

func NewNotFoundError(message string) *ApiError {
	if message == "" {
		message = lower(http.StatusText(http.StatusNotFound))
	}
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Code:       "not_found",
		Message:    message,
	}
}

func NewConflictError(message string) *ApiError {
	if message == "" {
		message = lower(http.StatusText(http.StatusConflict))
	}
	return &ApiError{
		StatusCode: http.StatusConflict,
		Code:       "conflict",
		Message:    message,
	}
}

func NewMethodNotAllowedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusMethodNotAllowed,
		Code:       "method_not_allowed",
		Message:    lower(http.StatusText(http.StatusMethodNotAllowed)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Code:       "internal",
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

// FromStoreError maps the store error taxonomy onto HTTP responses.
func FromStoreError(err error) *ApiError {
	var (
		validationErr     *database.ValidationError
		authorizationErr  *database.AuthorizationError
		notFoundErr       *database.NotFoundError
		conflictErr       *database.ConflictError
		authenticationErr *database.AuthenticationError
	)

	switch {
	case errors.As(err, &validationErr):
		return NewBadRequestError(err.Error())
	case errors.As(err, &authorizationErr):
		return NewForbiddenError(err.Error())
	case errors.As(err, &notFoundErr):
		return NewNotFoundError(err.Error())
	case errors.As(err, &conflictErr):
		return NewConflictError(err.Error())
	case errors.As(err, &authenticationErr):
		return NewUnauthorizedError(err.Error())
	default:
		return NewInternalServerError(err)
	}
}
