package keycloak

import (
	"fmt"
	"slices"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-keycloak-sso/internal/utils"
)

// AccessClaims is the subset of a Keycloak access token needed for UI
// decisions. It is parsed WITHOUT signature verification and must never be used
// to authorize anything server-side.
type AccessClaims struct {
	Subject           string
	PreferredUsername string
	Email             string
	ExpiresAt         time.Time
	RealmRoles        []string
	ResourceRoles     map[string][]string // client id -> roles
}

// ParseAccessClaims decodes the claims of a Keycloak access token.
func ParseAccessClaims(accessToken string) (*AccessClaims, error) {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("[keycloak ParseAccessClaims] malformed access token: %w", err)
	}

	ac := &AccessClaims{
		ResourceRoles: map[string][]string{},
	}
	ac.Subject, _ = claims.GetSubject()
	ac.PreferredUsername, _ = claims["preferred_username"].(string)
	ac.Email, _ = claims["email"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		ac.ExpiresAt = exp.Time
	}

	if realm, ok := claims["realm_access"].(map[string]any); ok {
		ac.RealmRoles = utils.ToStringSlice(realm["roles"])
	}
	if resources, ok := claims["resource_access"].(map[string]any); ok {
		for resource, access := range resources {
			if m, ok := access.(map[string]any); ok {
				ac.ResourceRoles[resource] = utils.ToStringSlice(m["roles"])
			}
		}
	}
	return ac, nil
}

func (c *AccessClaims) HasRealmRole(role string) bool {
	return c != nil && slices.Contains(c.RealmRoles, role)
}

// HasResourceRole reports whether role is granted on the given client (resource).
func (c *AccessClaims) HasResourceRole(resource, role string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.ResourceRoles[resource], role)
}
