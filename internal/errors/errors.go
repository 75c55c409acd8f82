package errors

import (
	"errors"
	"fmt"
)

// Common error types for the SSO glue
var (
	// Token lifecycle errors
	ErrRefreshAccessToken = errors.New("refresh access token failed")
	ErrRefreshExpired     = errors.New("refresh token expired")
	ErrLogout             = errors.New("logout handshake failed")
	ErrMissingIDToken     = errors.New("id_token is missing")
	ErrInvalidIDToken     = errors.New("id_token verification failed")
	ErrInvalidNonce       = errors.New("invalid nonce")

	// Flow errors
	ErrInvalidState    = errors.New("invalid state")
	ErrProviderRequest = errors.New("identity provider request failed")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSession  = errors.New("invalid session cookie")

	// Configuration errors
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
