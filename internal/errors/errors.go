package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the session authority
var (
	// ErrAuthentication is returned to callers for any rejected login step.
	// The message never says which check failed.
	ErrAuthentication = errors.New("authentication error")

	// ErrPreconditionViolation marks a sequencing bug inside the authority itself,
	// e.g. promoting a session that is not pending.
	ErrPreconditionViolation = errors.New("precondition violation")

	// ErrMisconfiguration is a startup-fatal configuration problem.
	ErrMisconfiguration = errors.New("misconfiguration")

	// Identity errors
	ErrDuplicatePrincipal = errors.New("duplicate principal")
	ErrInvalidPrincipal   = errors.New("invalid principal")

	// Token errors
	ErrTokenCollision = errors.New("token collision")
	ErrEntropy        = errors.New("entropy source failure")

	// General errors
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
