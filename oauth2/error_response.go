package oauth2

// ErrorResponse is the error body returned by the token endpoint
// (RFC 6749 section 5.2).
type ErrorResponse struct {
	// Error is the machine readable code, e.g. "invalid_grant".
	Error string `json:"error"`

	// ErrorDescription is the human readable explanation, e.g.
	// "Token is not active" or "Session not active".
	ErrorDescription string `json:"error_description,omitempty"`
}
