package models

import "errors"

// Common error types used throughout the doni application.
// These errors provide semantic meaning and enable consistent error handling
// across different layers (API, service, worker, drivers).

var (
	// ErrNotFound indicates the requested resource does not exist.
	// HTTP equivalent: 404 Not Found
	ErrNotFound = errors.New("resource not found")

	// ErrHardwareNotFound indicates the requested hardware does not exist.
	// HTTP equivalent: 404 Not Found
	ErrHardwareNotFound = errors.New("hardware not found")

	// ErrWorkerTaskNotFound indicates the requested worker task does not exist.
	// HTTP equivalent: 404 Not Found
	ErrWorkerTaskNotFound = errors.New("worker task not found")

	// ErrWindowNotFound indicates the requested availability window does not exist.
	// HTTP equivalent: 404 Not Found
	ErrWindowNotFound = errors.New("availability window not found")

	// ErrUnauthorized indicates the request lacks valid authentication credentials.
	// HTTP equivalent: 401 Unauthorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken indicates the authentication token is malformed or invalid.
	// HTTP equivalent: 401 Unauthorized
	ErrInvalidToken = errors.New("invalid authentication token")

	// ErrForbidden indicates the authenticated caller lacks permission for
	// this operation under the configured policy rules.
	// HTTP equivalent: 403 Forbidden
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidRequest indicates the request body or parameters are invalid.
	// HTTP equivalent: 400 Bad Request
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidParameter indicates a request value failed schema validation.
	// HTTP equivalent: 400 Bad Request
	ErrInvalidParameter = errors.New("invalid parameter value")

	// ErrInvalidPatch indicates a JSON patch could not be applied.
	// HTTP equivalent: 400 Bad Request
	ErrInvalidPatch = errors.New("could not apply patch")

	// ErrDuplicateName indicates hardware with this name already exists.
	// HTTP equivalent: 409 Conflict
	ErrDuplicateName = errors.New("hardware with this name already exists")

	// ErrDuplicateUUID indicates hardware with this UUID already exists.
	// HTTP equivalent: 409 Conflict
	ErrDuplicateUUID = errors.New("hardware with this UUID already exists")

	// ErrDriverNotFound indicates a hardware type or worker type is not
	// registered or not enabled.
	// HTTP equivalent: 400 Bad Request
	ErrDriverNotFound = errors.New("hardware type or worker type not found")

	// ErrNoFreeWorker indicates the worker pool is full and cannot accept
	// another task right now.
	ErrNoFreeWorker = errors.New("no free worker slots available")

	// ErrServiceUnavailable indicates an upstream service could not be
	// contacted.
	// HTTP equivalent: 503 Service Unavailable
	ErrServiceUnavailable = errors.New("service temporarily unavailable")

	// ErrInternalError indicates an unexpected internal failure.
	// HTTP equivalent: 500 Internal Server Error
	ErrInternalError = errors.New("internal error")
)
