package auth

import "errors"

// Domain-specific errors.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token has expired")
	ErrNoSecret     = errors.New("auth: signing secret is empty")
)
