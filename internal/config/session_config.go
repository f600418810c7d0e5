package config

import (
	"math"
	"strconv"
	"time"

	apperrors "github.com/jrsteele09/go-session-authority/internal/errors"
)

const (
	handshakeMinutesVar = "HANDSHAKE_MINUTES"
	sessionMinutesVar   = "SESSION_MINUTES"

	maxTTLMinutes = 366 * 24 * 60 // 366 days
)

// Session holds the handshake and session lifetimes. Both are required; there is
// no default.
type Session struct {
	handshakeTTL time.Duration
	sessionTTL   time.Duration
}

var _ SessionConfig = Session{}

// NewSession validates and builds a session configuration from explicit durations.
func NewSession(handshakeTTL, sessionTTL time.Duration) (Session, error) {
	if handshakeTTL <= 0 {
		return Session{}, apperrors.Wrapf(apperrors.ErrMisconfiguration, "handshake TTL must be positive, got %s", handshakeTTL)
	}
	if sessionTTL <= 0 {
		return Session{}, apperrors.Wrapf(apperrors.ErrMisconfiguration, "session TTL must be positive, got %s", sessionTTL)
	}
	return Session{handshakeTTL: handshakeTTL, sessionTTL: sessionTTL}, nil
}

func (s Session) GetHandshakeTTL() time.Duration {
	return s.handshakeTTL
}

func (s Session) GetSessionTTL() time.Duration {
	return s.sessionTTL
}

func sessionFromEnv() (Session, error) {
	handshake, err := requiredMinutes(handshakeMinutesVar)
	if err != nil {
		return Session{}, err
	}
	session, err := requiredMinutes(sessionMinutesVar)
	if err != nil {
		return Session{}, err
	}
	return NewSession(handshake, session)
}

// requiredMinutes parses a (possibly fractional) number of minutes.
func requiredMinutes(envVar string) (time.Duration, error) {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return 0, apperrors.Wrapf(apperrors.ErrMisconfiguration, "%s is not set", envVar)
	}
	minutes, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperrors.Wrapf(apperrors.ErrMisconfiguration, "%s=%q is not a number", envVar, raw)
	}
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return 0, apperrors.Wrapf(apperrors.ErrMisconfiguration, "%s=%q is not a finite number", envVar, raw)
	}
	if minutes <= 0 {
		return 0, apperrors.Wrapf(apperrors.ErrMisconfiguration, "%s must be positive, got %s", envVar, raw)
	}
	if minutes > maxTTLMinutes {
		return 0, apperrors.Wrapf(apperrors.ErrMisconfiguration, "%s must be at most %d minutes, got %s", envVar, maxTTLMinutes, raw)
	}
	return time.Duration(minutes * float64(time.Minute)), nil
}
