package identity

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-session-authority/internal/errors"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// SecondFactorKind selects how a one-time code is checked against the principal's secret.
type SecondFactorKind string

const (
	// SecondFactorStatic compares the code with a fixed shared secret.
	SecondFactorStatic SecondFactorKind = "static"
	// SecondFactorTOTP treats the secret as a base32 RFC 6238 seed.
	SecondFactorTOTP SecondFactorKind = "totp"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

// Principal is a registered user. Principals are immutable once loaded and shared
// between sessions, so callers must not modify them.
type Principal struct {
	ID                 string           `json:"id"`
	Username           string           `json:"username"`
	PasswordHash       string           `json:"-"` // never serialize
	SecondFactor       SecondFactorKind `json:"second_factor"`
	SecondFactorSecret string           `json:"-"` // never serialize
}

// Registration is the plain-text form a principal is declared in, either in code or
// in an identities file.
type Registration struct {
	Username     string           `toml:"username"`
	Password     string           `toml:"password"`
	SecondFactor SecondFactorKind `toml:"second_factor"`
	Secret       string           `toml:"secret"`
}

// NewPrincipal hashes the registration's password with the given bcrypt cost.
func NewPrincipal(reg Registration, cost int) (*Principal, error) {
	if strings.TrimSpace(reg.Username) == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidPrincipal, "username is required")
	}
	if reg.Password == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidPrincipal, "password is required for %q", reg.Username)
	}
	if reg.Secret == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidPrincipal, "second factor secret is required for %q", reg.Username)
	}

	kind := reg.SecondFactor
	if kind == "" {
		kind = SecondFactorStatic
	}
	switch kind {
	case SecondFactorStatic:
	case SecondFactorTOTP:
		if _, err := totp.GenerateCode(reg.Secret, time.Now()); err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidPrincipal, "totp secret for %q: %v", reg.Username, err)
		}
	default:
		return nil, apperrors.Wrapf(apperrors.ErrInvalidPrincipal, "unknown second factor %q for %q", kind, reg.Username)
	}

	hash, err := HashPassword(reg.Password, cost)
	if err != nil {
		return nil, apperrors.Wrapf(err, "hash password for %q", reg.Username)
	}

	return &Principal{
		ID:                 uuid.New().String(),
		Username:           reg.Username,
		PasswordHash:       hash,
		SecondFactor:       kind,
		SecondFactorSecret: reg.Secret,
	}, nil
}

// CheckPassword reports whether password matches the principal's first factor.
func (p *Principal) CheckPassword(password string) bool {
	return CheckPasswordHash(password, p.PasswordHash)
}

// VerifySecondFactor reports whether code is an acceptable one-time code at now.
func (p *Principal) VerifySecondFactor(code string, now time.Time) bool {
	switch p.SecondFactor {
	case SecondFactorTOTP:
		ok, err := totp.ValidateCustom(strings.TrimSpace(code), p.SecondFactorSecret, now, totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      totpSkew,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		return err == nil && ok
	default:
		return subtle.ConstantTimeCompare([]byte(code), []byte(p.SecondFactorSecret)) == 1
	}
}

func HashPassword(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
