package upstream

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrAlbumNotFound is returned when album info succeeds but carries no album.
	ErrAlbumNotFound = errors.New("album not found")

	// ErrInvalidResponse is returned when the upstream body is not a valid envelope.
	ErrInvalidResponse = errors.New("invalid upstream response")
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassRejected represents a 2xx response with a non-success envelope code.
	ErrorClassRejected ErrorClass = "rejected"
)

// HTTPError is returned when the upstream answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	ErrorClass ErrorClass
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream %s error (status %d) on %s", e.ErrorClass, e.StatusCode, e.Endpoint)
}

// APIError is returned when the upstream answers 2xx but the envelope code
// is not StatusSuccess.
type APIError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "Unknown error"
	}
	return fmt.Sprintf("API Error %d - %s", e.Code, msg)
}

// NetworkError wraps a transport failure (DNS, reset, timeout).
type NetworkError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("upstream network error on %s: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status to an ErrorClass.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
