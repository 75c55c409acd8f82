package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"
	ssoerrors "github.com/jrsteele09/go-keycloak-sso/internal/errors"
)

// Validate fails fast on configuration the SSO flow cannot run without. All
// problems are reported together so a misconfigured deployment can be fixed in
// one pass.
func (c mainConfig) Validate() error {
	var result *multierror.Error

	if c.GetClientID() == "" {
		result = multierror.Append(result, fmt.Errorf("%s must be defined: %w", clientIDVar, ssoerrors.ErrMissingConfig))
	}
	if c.GetClientSecret() == "" {
		result = multierror.Append(result, fmt.Errorf("%s must be defined: %w", clientSecretVar, ssoerrors.ErrMissingConfig))
	}
	if err := validateURL(issuerVar, c.GetIssuer()); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateURL(baseURLVar, c.GetBaseURL()); err != nil {
		result = multierror.Append(result, err)
	}
	if secret := c.GetSessionSecret(); secret == "" {
		result = multierror.Append(result, fmt.Errorf("%s must be defined: %w", sessionSecretVar, ssoerrors.ErrMissingConfig))
	} else if len(secret) < MinSessionSecretLength {
		result = multierror.Append(result, fmt.Errorf("%s must be at least %d characters: %w", sessionSecretVar, MinSessionSecretLength, ssoerrors.ErrInvalidConfig))
	}
	if raw := GetEnv(providerTimeoutVar, ""); raw != "" {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			result = multierror.Append(result, fmt.Errorf("%s %q is not a positive duration: %w", providerTimeoutVar, raw, ssoerrors.ErrInvalidConfig))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("[config Validate] %w", err)
	}
	return nil
}

func validateURL(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s must be defined: %w", name, ssoerrors.ErrMissingConfig)
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid URL: %w", name, value, ssoerrors.ErrInvalidConfig)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute http(s) URL: %w", name, value, ssoerrors.ErrInvalidConfig)
	}
	return nil
}
