package api

import "fmt"

// TransportError wraps a network-level failure (timeout, refused connection,
// dropped connection). Retried with backoff before being surfaced.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "Could not reach the server. Check your connection and try again."
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is returned for a 401 response. It is never retried; emitting it
// is paired with exactly one session-expired broadcast.
type AuthError struct{}

func (e *AuthError) Error() string {
	return "Your session has expired. Please sign in again."
}

// GatewayError is returned when a gateway (502/503/504) answered with an HTML
// error page instead of the API.
type GatewayError struct {
	Status int
}

func (e *GatewayError) Error() string {
	return "The server is temporarily unavailable. Please try again in a moment."
}

// ServerError is returned for a server-side failure that outlived the retry
// budget, or for any other HTML error page.
type ServerError struct {
	Status int
}

func (e *ServerError) Error() string {
	return "The server encountered an error. Please try again later."
}

// ClientError is returned for a request the server rejected. Detail carries
// the server-supplied message when the body held a {"detail": ...} envelope.
type ClientError struct {
	Status int
	Detail string
}

func (e *ClientError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("Request failed with status %d.", e.Status)
}

// DecodingError is returned when a response body cannot be parsed as the
// expected shape, or is detected as HTML where JSON was expected.
type DecodingError struct {
	Err error
}

func (e *DecodingError) Error() string {
	return "The server returned an unexpected response."
}

func (e *DecodingError) Unwrap() error { return e.Err }
