package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// UnavailableMessage is returned when an update cannot be scheduled.
	UnavailableMessage = "update could not be scheduled"
	// BadPayloadMessage is returned for undecodable webhook bodies.
	BadPayloadMessage = "malformed update payload"
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// BadPayload marks a webhook body that could not be decoded.
func BadPayload(err error) *AppError {
	return New(err, http.StatusBadRequest, BadPayloadMessage)
}

// Unavailable marks a transient failure to hand an update to the workers.
func Unavailable(err error) *AppError {
	return New(err, http.StatusServiceUnavailable, UnavailableMessage)
}

// WrapRedis wraps a Redis error with a consistent status code and message.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, RedisErrorMessage)
}

// Status returns the HTTP status carried by err, or 500.
func Status(err error) (int, string) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status, appErr.Message
	}
	return http.StatusInternalServerError, SystemErrorMessage
}
