// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an id collision on create (unique constraint violation).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication or a missing role/permission grant.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAccessProhibited indicates the caller is authenticated but neither owns
	// the app nor holds the required access grant.
	ErrAccessProhibited = errors.New("access prohibited")

	// ErrValidation indicates a malformed form or import payload.
	ErrValidation = errors.New("validation")
)
