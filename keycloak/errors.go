package keycloak

import (
	"fmt"

	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
)

// ProviderError is returned when the provider answers with a non-2xx status.
// Code and Description come from the OAuth error body when one was sent.
type ProviderError struct {
	Endpoint    string
	StatusCode  int
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("keycloak %s: status %d", e.Endpoint, e.StatusCode)
	}
	if e.Description == "" {
		return fmt.Sprintf("keycloak %s: status %d: %s", e.Endpoint, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("keycloak %s: status %d: %s (%s)", e.Endpoint, e.StatusCode, e.Code, e.Description)
}

func (e *ProviderError) ErrorCode() string {
	return e.Code
}

func (e *ProviderError) ErrorDescription() string {
	return e.Description
}

func (e *ProviderError) Unwrap() error {
	return ssoerrors.ErrProviderRequest
}
