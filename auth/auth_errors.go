package auth

import "fmt"

// ReauthenticateError is returned by OnTokenRefresh when the session can no
// longer be renewed. The caller must send the user to RedirectURL.
type ReauthenticateError struct {
	RedirectURL string
	Cause       error
}

func (e *ReauthenticateError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("re-authentication required at %s", e.RedirectURL)
	}
	return fmt.Sprintf("re-authentication required at %s: %v", e.RedirectURL, e.Cause)
}

func (e *ReauthenticateError) Unwrap() error {
	return e.Cause
}
