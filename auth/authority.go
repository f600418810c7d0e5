package auth

import (
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jrsteele09/go-session-authority/identity"
	"github.com/jrsteele09/go-session-authority/internal/config"
	apperrors "github.com/jrsteele09/go-session-authority/internal/errors"
	"github.com/jrsteele09/go-session-authority/sessions"
	"github.com/jrsteele09/go-session-authority/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// maxTokenAttempts bounds regeneration when a new identifier collides with a
// tracked one.
const maxTokenAttempts = 5

var (
	errUnknownHandshake = stderrors.New("unknown handshake")
	errWrongCode        = stderrors.New("wrong second factor code")
)

// Stats is a point-in-time count of tracked sessions.
type Stats struct {
	Pending       int `json:"pending"`
	Authenticated int `json:"authenticated"`
}

// Authority runs the two-factor login handshake and tracks the resulting sessions.
// It is safe for concurrent use; every operation sweeps expired sessions first.
type Authority struct {
	identities   identity.Store
	generator    token.Generator
	table        *sessions.Table
	handshakeTTL time.Duration
	sessionTTL   time.Duration
	maxAttempts  int              // 0 = unlimited second-factor retries
	nowTime      func() time.Time // injectable for testing
	logger       zerolog.Logger
	observer     Observer
}

// AuthorityOption defines a function type to modify the Authority instance.
type AuthorityOption func(*Authority)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) AuthorityOption {
	return func(a *Authority) {
		a.nowTime = nowFunc
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) AuthorityOption {
	return func(a *Authority) {
		a.logger = logger
	}
}

// WithObserver registers an observer for login outcomes.
func WithObserver(o Observer) AuthorityOption {
	return func(a *Authority) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithMaxSecondFactorAttempts drops a pending login after n rejected second-factor
// codes. n <= 0 keeps the default of unlimited retries until the handshake expires.
func WithMaxSecondFactorAttempts(n int) AuthorityOption {
	return func(a *Authority) {
		if n < 0 {
			n = 0
		}
		a.maxAttempts = n
	}
}

// NewAuthority builds an Authority over the given principals and token source.
func NewAuthority(
	identities identity.Store,
	generator token.Generator,
	cfg config.SessionConfig,
	options ...AuthorityOption,
) (*Authority, error) {
	if identities == nil {
		return nil, errors.New("[NewAuthority] identity store is required")
	}
	if generator == nil {
		return nil, errors.New("[NewAuthority] token generator is required")
	}
	if cfg == nil {
		return nil, errors.Wrap(apperrors.ErrMisconfiguration, "[NewAuthority] session config is required")
	}
	if cfg.GetHandshakeTTL() <= 0 || cfg.GetSessionTTL() <= 0 {
		return nil, errors.Wrap(apperrors.ErrMisconfiguration, "[NewAuthority] TTLs must be positive")
	}

	a := &Authority{
		identities:   identities,
		generator:    generator,
		table:        sessions.NewTable(),
		handshakeTTL: cfg.GetHandshakeTTL(),
		sessionTTL:   cfg.GetSessionTTL(),
		nowTime:      time.Now,
		logger:       zerolog.Nop(),
		observer:     nopObserver{},
	}

	for _, opt := range options {
		opt(a)
	}

	return a, nil
}

// BeginLogin checks the first factor and starts a pending login.
func (a *Authority) BeginLogin(username, password string) (sessions.HandshakeToken, error) {
	principal, found := a.identities.FindByUsername(username)
	if !found {
		a.identities.SpendPasswordCheck(password)
	}
	if !found || !principal.CheckPassword(password) {
		a.logger.Warn().Str("username_digest", usernameDigest(username)).Msg("login rejected: bad credentials")
		a.observer.LoginBegun(false)
		return sessions.HandshakeToken{}, BadCredentialsErr
	}

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		identifier, err := a.generator.NewIdentifier()
		if err != nil {
			a.logger.Err(err).Msg("handshake identifier generation failed")
			return sessions.HandshakeToken{}, errors.Wrap(err, "[Authority.BeginLogin] generate handshake identifier")
		}

		now := a.nowTime()
		handshake := sessions.HandshakeToken{
			Identifier: identifier,
			ExpiresAt:  now.Add(a.handshakeTTL),
		}
		err = a.do(now, func(tx *sessions.Tx) error {
			_, err := tx.InsertPending(principal, handshake)
			return err
		})
		if apperrors.Is(err, sessions.ErrTokenCollision) {
			a.logger.Warn().Msg("handshake identifier collision, regenerating")
			continue
		}
		if err != nil {
			a.logger.Err(err).Str("username", username).Msg("unexpected error starting login")
			return sessions.HandshakeToken{}, errors.Wrap(err, "[Authority.BeginLogin] insert pending session")
		}

		a.logger.Info().
			Str("username", username).
			Str("handshake", tokenPrefix(identifier)).
			Time("expires_at", handshake.ExpiresAt).
			Msg("login begun")
		a.observer.LoginBegun(true)
		return handshake, nil
	}

	return sessions.HandshakeToken{}, errors.Wrap(apperrors.ErrInternal, "[Authority.BeginLogin] no unique handshake identifier")
}

// CancelLogin abandons a pending login. Unknown, expired and already consumed
// handshake tokens are ignored.
func (a *Authority) CancelLogin(handshake sessions.HandshakeToken) {
	var removed bool
	_ = a.do(a.nowTime(), func(tx *sessions.Tx) error {
		removed = tx.RemoveByHandshake(handshake)
		return nil
	})

	if removed {
		a.logger.Info().Str("handshake", tokenPrefix(handshake.Identifier)).Msg("login cancelled")
	}
	a.observer.LoginCancelled(removed)
}

// FinishLogin checks the second factor against a pending login and, on success,
// promotes it to an authenticated session. A wrong code leaves the pending login in
// place unless a retry limit is configured.
func (a *Authority) FinishLogin(handshake sessions.HandshakeToken, secondFactorCode string) (sessions.SessionToken, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		hash, err := a.generator.NewIdentifier()
		if err != nil {
			a.logger.Err(err).Msg("session identifier generation failed")
			return sessions.SessionToken{}, errors.Wrap(err, "[Authority.FinishLogin] generate session identifier")
		}

		var (
			now       = a.nowTime()
			issued    sessions.SessionToken
			username  string
			failures  int
			lockedOut bool
		)
		err = a.do(now, func(tx *sessions.Tx) error {
			session, ok := tx.FindPending(handshake)
			if !ok {
				return errUnknownHandshake
			}
			username = session.Owner().Username

			if !session.Owner().VerifySecondFactor(secondFactorCode, now) {
				failures = tx.RecordFailedAttempt(session)
				if a.maxAttempts > 0 && failures >= a.maxAttempts {
					lockedOut = tx.RemoveByHandshake(handshake)
				}
				return errWrongCode
			}

			issued = sessions.SessionToken{
				Hash:      hash,
				ExpiresAt: now.Add(a.sessionTTL),
			}
			return tx.Promote(session, issued)
		})

		switch {
		case err == nil:
			a.logger.Info().
				Str("username", username).
				Str("session", tokenPrefix(issued.Hash)).
				Time("expires_at", issued.ExpiresAt).
				Msg("login finished")
			a.observer.LoginFinished(true)
			return issued, nil

		case apperrors.Is(err, sessions.ErrTokenCollision):
			a.logger.Warn().Msg("session identifier collision, regenerating")
			continue

		case stderrors.Is(err, errUnknownHandshake):
			a.logger.Warn().Str("handshake", tokenPrefix(handshake.Identifier)).Msg("finish rejected: unknown handshake")
			a.observer.LoginFinished(false)
			return sessions.SessionToken{}, FinishLoginErr

		case stderrors.Is(err, errWrongCode):
			event := a.logger.Warn().Str("username", username).Int("failed_attempts", failures)
			if lockedOut {
				event.Msg("finish rejected: wrong second factor, pending login dropped")
			} else {
				event.Msg("finish rejected: wrong second factor")
			}
			a.observer.LoginFinished(false)
			return sessions.SessionToken{}, FinishLoginErr

		default:
			a.logger.Err(err).Str("username", username).Msg("unexpected error finishing login")
			return sessions.SessionToken{}, errors.Wrap(err, "[Authority.FinishLogin] promote session")
		}
	}

	return sessions.SessionToken{}, errors.Wrap(apperrors.ErrInternal, "[Authority.FinishLogin] no unique session identifier")
}

// Logout ends an authenticated session. Unknown and expired tokens are ignored.
func (a *Authority) Logout(sessionToken sessions.SessionToken) {
	var removed bool
	_ = a.do(a.nowTime(), func(tx *sessions.Tx) error {
		removed = tx.RemoveBySessionToken(sessionToken)
		return nil
	})

	if removed {
		a.logger.Info().Str("session", tokenPrefix(sessionToken.Hash)).Msg("logged out")
	}
	a.observer.LoggedOut(removed)
}

// IsAuthenticated reports whether hash belongs to a live authenticated session.
// A blank hash is rejected without consulting the table.
func (a *Authority) IsAuthenticated(hash string) bool {
	if strings.TrimSpace(hash) == "" {
		a.observer.SessionChecked(false)
		return false
	}

	var authenticated bool
	_ = a.do(a.nowTime(), func(tx *sessions.Tx) error {
		_, authenticated = tx.FindAuthenticated(hash)
		return nil
	})
	a.observer.SessionChecked(authenticated)
	return authenticated
}

// Stats sweeps and returns the number of pending and authenticated sessions.
func (a *Authority) Stats() Stats {
	var stats Stats
	_ = a.do(a.nowTime(), func(tx *sessions.Tx) error {
		stats.Pending, stats.Authenticated = tx.Counts()
		return nil
	})
	return stats
}

// Sweep removes expired sessions now and returns how many were removed.
func (a *Authority) Sweep() int {
	var swept int
	_ = a.do(a.nowTime(), func(tx *sessions.Tx) error {
		swept = tx.Swept()
		return nil
	})
	return swept
}

// do wraps Table.Do and reports the sweep once the lock is released.
func (a *Authority) do(now time.Time, fn func(tx *sessions.Tx) error) error {
	var swept int
	err := a.table.Do(now, func(tx *sessions.Tx) error {
		swept = tx.Swept()
		return fn(tx)
	})
	if swept > 0 {
		a.logger.Debug().Int("count", swept).Msg("expired sessions swept")
		a.observer.SessionsExpired(swept)
	}
	return err
}

// usernameDigest identifies a rejected username in logs without recording what was
// typed, which is sometimes a password.
func usernameDigest(username string) string {
	sum := sha256.Sum256([]byte(username))
	return hex.EncodeToString(sum[:4])
}

func tokenPrefix(t string) string {
	if len(t) <= 8 {
		return t
	}
	return t[:8] + "..."
}
