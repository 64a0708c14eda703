package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrCompanyMismatch indicates the caller is not scoped to the requested company.
	ErrCompanyMismatch = errors.New("auth: company mismatch")
)
