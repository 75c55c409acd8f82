package config

import (
	"strings"
	"time"
)

const (
	clientIDVar        = "KEYCLOAK_CLIENT_ID"
	clientSecretVar    = "KEYCLOAK_CLIENT_SECRET"
	issuerVar          = "KEYCLOAK_ISSUER"
	providerCAVar      = "KEYCLOAK_CA_PEM"
	providerTimeoutVar = "KEYCLOAK_TIMEOUT"

	// DefaultProviderTimeout bounds every call made to the identity provider.
	DefaultProviderTimeout = 30 * time.Second
)

type KeycloakConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetIssuer() string
	GetProviderCA() string
	GetProviderTimeout() time.Duration
}

type Keycloak struct{}

var _ KeycloakConfig = Keycloak{}

func (Keycloak) GetClientID() string {
	return GetEnv(clientIDVar, "")
}

func (Keycloak) GetClientSecret() string {
	return GetEnv(clientSecretVar, "")
}

// GetIssuer returns the realm issuer, e.g. "https://sso.example.com/realms/my-realm".
func (Keycloak) GetIssuer() string {
	return strings.TrimRight(GetEnv(issuerVar, ""), "/")
}

func (Keycloak) GetProviderCA() string {
	return GetEnv(providerCAVar, "")
}

// GetProviderTimeout returns KEYCLOAK_TIMEOUT, falling back to
// DefaultProviderTimeout when unset. Unparseable values are reported by Validate.
func (Keycloak) GetProviderTimeout() time.Duration {
	d, err := time.ParseDuration(GetEnv(providerTimeoutVar, DefaultProviderTimeout.String()))
	if err != nil || d <= 0 {
		return DefaultProviderTimeout
	}
	return d
}
