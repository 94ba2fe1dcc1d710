package credentials

import "errors"

var (
	// ErrNoToken means no access token is stored; the user must log in.
	ErrNoToken = errors.New("no access token stored")

	// ErrSessionExpired means the access token was rejected and could not be
	// refreshed. Stored credentials have been cleared.
	ErrSessionExpired = errors.New("session expired")

	// ErrProbeFailed means the authentication probe returned a status other
	// than success or 401.
	ErrProbeFailed = errors.New("authentication probe failed")

	ErrNoUserClaim = errors.New("access token has no user_id claim")
)
