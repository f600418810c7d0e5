package sessions

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-session-authority/identity"
	apperrors "github.com/jrsteele09/go-session-authority/internal/errors"
)

// ErrTokenCollision is returned when a new token identifier is already tracked.
// The caller should generate a fresh identifier and try again.
var ErrTokenCollision = apperrors.ErrTokenCollision

// Table holds every pending and authenticated session. All access goes through Do,
// which serializes callers on one mutex and sweeps expired sessions first.
type Table struct {
	mu            sync.Mutex
	pending       map[string]*Session // handshake identifier -> session
	authenticated map[string]*Session // session token hash -> session
}

func NewTable() *Table {
	return &Table{
		pending:       make(map[string]*Session),
		authenticated: make(map[string]*Session),
	}
}

// Do runs fn with exclusive access to the table. Sessions whose active token expired
// before now are removed before fn runs, in the same critical section.
func (t *Table) Do(now time.Time, fn func(tx *Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx := &Tx{table: t, swept: t.sweepLocked(now)}
	return fn(tx)
}

// Sweep removes expired sessions and returns how many were removed.
func (t *Table) Sweep(now time.Time) int {
	var swept int
	_ = t.Do(now, func(tx *Tx) error {
		swept = tx.Swept()
		return nil
	})
	return swept
}

func (t *Table) sweepLocked(now time.Time) int {
	removed := 0
	for id, s := range t.pending {
		if s.expired(now) {
			delete(t.pending, id)
			removed++
		}
	}
	for hash, s := range t.authenticated {
		if s.expired(now) {
			delete(t.authenticated, hash)
			removed++
		}
	}
	return removed
}

func (t *Table) tracked(id string) bool {
	if _, ok := t.pending[id]; ok {
		return true
	}
	_, ok := t.authenticated[id]
	return ok
}

// Tx is the view of the table handed to a Do callback. It is only valid until the
// callback returns.
type Tx struct {
	table *Table
	swept int
}

// Swept returns the number of sessions removed by the sweep that opened this Tx.
func (tx *Tx) Swept() int {
	return tx.swept
}

// InsertPending tracks a new pending session for owner.
func (tx *Tx) InsertPending(owner *identity.Principal, handshake HandshakeToken) (*Session, error) {
	if owner == nil {
		return nil, apperrors.Wrapf(apperrors.ErrPreconditionViolation, "pending session without owner")
	}
	if handshake.Identifier == "" {
		return nil, apperrors.Wrapf(apperrors.ErrPreconditionViolation, "empty handshake identifier")
	}
	if tx.table.tracked(handshake.Identifier) {
		return nil, ErrTokenCollision
	}

	s := &Session{
		owner:     owner,
		phase:     PhasePending,
		handshake: &handshake,
	}
	tx.table.pending[handshake.Identifier] = s
	return s, nil
}

// FindPending returns the pending session for the handshake token.
func (tx *Tx) FindPending(handshake HandshakeToken) (*Session, bool) {
	s, ok := tx.table.pending[handshake.Identifier]
	return s, ok
}

// FindAuthenticated returns the authenticated session whose token has this hash.
func (tx *Tx) FindAuthenticated(hash string) (*Session, bool) {
	s, ok := tx.table.authenticated[hash]
	return s, ok
}

// Promote swaps the session's handshake token for token and marks it authenticated.
// Promoting anything other than a tracked pending session is a precondition violation.
func (tx *Tx) Promote(s *Session, token SessionToken) error {
	if s == nil || s.phase != PhasePending || s.handshake == nil {
		return apperrors.Wrapf(apperrors.ErrPreconditionViolation, "promote: session is not pending")
	}
	if current, ok := tx.table.pending[s.handshake.Identifier]; !ok || current != s {
		return apperrors.Wrapf(apperrors.ErrPreconditionViolation, "promote: session is not tracked")
	}
	if token.Hash == "" {
		return apperrors.Wrapf(apperrors.ErrPreconditionViolation, "promote: empty session token")
	}
	if tx.table.tracked(token.Hash) {
		return ErrTokenCollision
	}

	delete(tx.table.pending, s.handshake.Identifier)
	s.handshake = nil
	s.token = &token
	s.phase = PhaseAuthenticated
	tx.table.authenticated[token.Hash] = s
	return nil
}

// RecordFailedAttempt counts a rejected second-factor code and returns the new total.
func (tx *Tx) RecordFailedAttempt(s *Session) int {
	s.failedAttempts++
	return s.failedAttempts
}

// RemoveByHandshake drops the pending session for the handshake token, if any.
func (tx *Tx) RemoveByHandshake(handshake HandshakeToken) bool {
	if _, ok := tx.table.pending[handshake.Identifier]; !ok {
		return false
	}
	delete(tx.table.pending, handshake.Identifier)
	return true
}

// RemoveBySessionToken drops the authenticated session for the token, if any.
func (tx *Tx) RemoveBySessionToken(token SessionToken) bool {
	if _, ok := tx.table.authenticated[token.Hash]; !ok {
		return false
	}
	delete(tx.table.authenticated, token.Hash)
	return true
}

// Counts returns the number of pending and authenticated sessions.
func (tx *Tx) Counts() (pending, authenticated int) {
	return len(tx.table.pending), len(tx.table.authenticated)
}
