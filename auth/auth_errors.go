package auth

import (
	apperrors "github.com/jrsteele09/go-session-authority/internal/errors"
)

// AuthenticationError is returned to callers when a login step is rejected. The
// message is generic and never says which check failed.
type AuthenticationError struct {
	message string
}

func (e *AuthenticationError) Error() string {
	return e.message
}

// Is lets errors.Is(err, internal/errors.ErrAuthentication) match any AuthenticationError.
func (e *AuthenticationError) Is(target error) bool {
	return target == apperrors.ErrAuthentication
}

var (
	// BadCredentialsErr covers both an unknown username and a wrong password.
	BadCredentialsErr = &AuthenticationError{message: "bad credentials"}
	// FinishLoginErr covers an unknown, expired or consumed handshake token and a
	// wrong second-factor code.
	FinishLoginErr = &AuthenticationError{message: "authentication error"}
)
