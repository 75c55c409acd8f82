package auth

import (
	"net/url"

	"github.com/jrsteele09/go-keycloak-sso/internal/config"
)

// SafeRedirect resolves target against baseURL and returns it when it stays on
// baseURL's origin (scheme, host and port). Anything else, including
// unparseable targets, yields baseURL.
func SafeRedirect(target, baseURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil || target == "" {
		return baseURL
	}
	t, err := url.Parse(target)
	if err != nil {
		return baseURL
	}
	resolved := base.ResolveReference(t)
	if config.Origin(resolved.String()) != config.Origin(baseURL) {
		return baseURL
	}
	return resolved.String()
}
