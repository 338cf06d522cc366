package oscli

import "errors"

// Common client errors that callers can check for specific error handling.
var (
	// ErrInvalidConfig indicates the client configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid service client configuration")

	// ErrMissingAuth indicates no credentials were configured for the service.
	ErrMissingAuth = errors.New("missing authentication credentials")

	// ErrUnauthorized indicates the provided credentials were rejected.
	ErrUnauthorized = errors.New("unauthorized: invalid credentials")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates the request conflicts with existing state.
	ErrConflict = errors.New("conflict with existing resource")

	// ErrBadRequest indicates the request was malformed or invalid.
	ErrBadRequest = errors.New("bad request")

	// ErrRateLimited indicates the request was rate limited by the service.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrServerError indicates the service reported an internal error.
	ErrServerError = errors.New("internal server error")

	// ErrUnavailable indicates the service could not be reached.
	ErrUnavailable = errors.New("service unavailable")
)
