package panel

import (
	"errors"
	"fmt"
)

// TransportError marks a failure before any HTTP status was received:
// DNS, TCP, TLS, or timeout. It never carries a status code.
type TransportError struct {
	Detail string
}

func (e *TransportError) Error() string {
	return "connection error: " + e.Detail
}

// IsTransportError checks if an error is a transport-level failure,
// unwrapping as needed.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// APIError is an application-level rejection from the panel (HTTP >= 400)
// with the first structured error detail from the response body.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Detail, e.Status)
}

// IsNotFound reports whether an error is a panel 404, unwrapping as needed.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}
