package sessions

import "errors"

var (
	// ErrInvalidToken means the presented refresh token is unknown or was
	// already redeemed. Terminal; the client must re-authenticate.
	ErrInvalidToken = errors.New("sessions: invalid refresh token")

	// ErrExpiredToken means the refresh token exists but is past its validity
	// window. Terminal; the record is removed on detection.
	ErrExpiredToken = errors.New("sessions: refresh token expired")

	// ErrSessionLost means the provider-side credential is gone or no longer
	// accepted; the user must fully re-authenticate.
	ErrSessionLost = errors.New("sessions: provider session lost")

	// ErrConflict means a freshly generated token collided with an existing
	// record. Retried once internally, never surfaced to clients.
	ErrConflict = errors.New("sessions: refresh token already exists")

	// ErrDependencyTimeout means a store or the identity provider did not
	// answer within the operation deadline. Safe for the caller to retry.
	ErrDependencyTimeout = errors.New("sessions: dependency timed out")
)
