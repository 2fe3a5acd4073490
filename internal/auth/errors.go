package auth

import "errors"

var (
	// ErrUnauthorized covers every authentication failure: bad credentials,
	// inactive account or company, missing/expired/revoked session. Callers
	// must not be able to tell which check failed.
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrForbidden means the caller authenticated but lacks a required permission.
	ErrForbidden = errors.New("auth: forbidden")

	// ErrInvalidToken indicates the token failed signature, expiry or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")
)
