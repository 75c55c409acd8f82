package oauth2

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	// Token request includes: code, client_id, client_secret, redirect_uri, code_verifier
	AuthorizationCodeGrant GrantType = "authorization_code"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	// Token request includes: refresh_token, client_id, client_secret
	// Returns: new access_token, id_token, and (usually) a rotated refresh_token
	RefreshTokenGrant GrantType = "refresh_token"
)

// Form parameter names used on the provider's token and end-session endpoints.
const (
	ParamClientID              = "client_id"
	ParamClientSecret          = "client_secret"
	ParamGrantType             = "grant_type"
	ParamRefreshToken          = "refresh_token"
	ParamIDTokenHint           = "id_token_hint"
	ParamPostLogoutRedirectURI = "post_logout_redirect_uri"
)
