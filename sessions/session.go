package sessions

import (
	"time"

	"github.com/jrsteele09/go-session-authority/identity"
)

// Phase is the lifecycle state of a tracked session. Terminated sessions are removed
// from the table rather than flagged.
type Phase int

const (
	PhasePending Phase = iota + 1
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// HandshakeToken bridges BeginLogin and FinishLogin for one login attempt.
// Two handshake tokens are the same token when their identifiers match.
type HandshakeToken struct {
	Identifier string    `json:"identifier"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the token is past its expiry at now.
func (t HandshakeToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// SessionToken authorizes requests after a completed login.
// Two session tokens are the same token when their hashes match.
type SessionToken struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the token is past its expiry at now.
func (t SessionToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// Session is one login attempt or active login. It is owned by a Table and only
// changed through a Tx; a *Session must not be kept after the Tx that returned it ends.
type Session struct {
	owner          *identity.Principal
	phase          Phase
	handshake      *HandshakeToken // set iff phase == PhasePending
	token          *SessionToken   // set iff phase == PhaseAuthenticated
	failedAttempts int
}

func (s *Session) Owner() *identity.Principal {
	return s.owner
}

func (s *Session) Phase() Phase {
	return s.phase
}

func (s *Session) HandshakeToken() (HandshakeToken, bool) {
	if s.handshake == nil {
		return HandshakeToken{}, false
	}
	return *s.handshake, true
}

func (s *Session) SessionToken() (SessionToken, bool) {
	if s.token == nil {
		return SessionToken{}, false
	}
	return *s.token, true
}

func (s *Session) expired(now time.Time) bool {
	switch s.phase {
	case PhasePending:
		return s.handshake.Expired(now)
	case PhaseAuthenticated:
		return s.token.Expired(now)
	}
	return true
}
