// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Store and transport sentinels.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (base version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrRetriesExhausted indicates a transaction kept conflicting until the retry budget ran out.
	ErrRetriesExhausted = errors.New("transaction retries exhausted")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller touching another campus.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., login taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument wraps request validation failures.
	ErrInvalidArgument = errors.New("invalid argument")
)
