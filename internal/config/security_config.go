package config

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-session-authority/internal/errors"
)

const (
	maxAttemptsVar    = "MAX_SECOND_FACTOR_ATTEMPTS"
	tokenBytesVar     = "TOKEN_BYTES"
	loginRateVar      = "LOGIN_RATE_PER_MINUTE"
	reaperIntervalVar = "REAPER_INTERVAL_SECONDS"
	trustedProxiesVar = "TRUSTED_PROXIES"

	defaultTokenBytes = 16 // 16 bytes = 128 bits
	minTokenBytes     = 16
	defaultLoginRate  = 30
)

type SecurityConfig interface {
	GetMaxSecondFactorAttempts() int
	GetTokenBytes() int
	GetLoginRatePerMinute() int
	GetReaperInterval() time.Duration
	GetTrustedProxies() []netip.Prefix
}

type Security struct {
	maxSecondFactorAttempts int
	tokenBytes              int
	loginRatePerMinute      int
	reaperInterval          time.Duration
	trustedProxies          []netip.Prefix
}

var _ SecurityConfig = Security{}

// DefaultSecurity is unlimited second-factor retries,
// 128-bit tokens and lazy expiry only.
func DefaultSecurity() Security {
	return Security{
		tokenBytes:         defaultTokenBytes,
		loginRatePerMinute: defaultLoginRate,
	}
}

// GetMaxSecondFactorAttempts returns 0 when failed codes may be retried until the
// handshake expires.
func (s Security) GetMaxSecondFactorAttempts() int {
	return s.maxSecondFactorAttempts
}

func (s Security) GetTokenBytes() int {
	return s.tokenBytes
}

func (s Security) GetLoginRatePerMinute() int {
	return s.loginRatePerMinute
}

// GetReaperInterval returns 0 when no background sweep should run.
func (s Security) GetReaperInterval() time.Duration {
	return s.reaperInterval
}

// GetTrustedProxies returns the peers whose forwarding headers name the client.
// Empty means the connection's remote address is always the client.
func (s Security) GetTrustedProxies() []netip.Prefix {
	return s.trustedProxies
}

func securityFromEnv() (Security, error) {
	s := DefaultSecurity()

	var err error
	if s.maxSecondFactorAttempts, err = optionalInt(maxAttemptsVar, 0, 0); err != nil {
		return Security{}, err
	}
	if s.tokenBytes, err = optionalInt(tokenBytesVar, defaultTokenBytes, minTokenBytes); err != nil {
		return Security{}, err
	}
	if s.loginRatePerMinute, err = optionalInt(loginRateVar, defaultLoginRate, 0); err != nil {
		return Security{}, err
	}
	seconds, err := optionalInt(reaperIntervalVar, 0, 0)
	if err != nil {
		return Security{}, err
	}
	s.reaperInterval = time.Duration(seconds) * time.Second
	if s.trustedProxies, err = ParseTrustedProxies(GetEnv(trustedProxiesVar, "")); err != nil {
		return Security{}, err
	}
	return s, nil
}

// ParseTrustedProxies reads a comma separated list of IP addresses and CIDR ranges.
func ParseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if strings.Contains(field, "/") {
			prefix, err := netip.ParsePrefix(field)
			if err != nil {
				return nil, apperrors.Wrapf(apperrors.ErrMisconfiguration, "%s entry %q", trustedProxiesVar, field)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrMisconfiguration, "%s entry %q", trustedProxiesVar, field)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func optionalInt(envVar string, defaultValue, minimum int) (int, error) {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Wrapf(apperrors.ErrMisconfiguration, "%s=%q is not an integer", envVar, raw)
	}
	if v < minimum {
		return 0, apperrors.Wrapf(apperrors.ErrMisconfiguration, "%s must be at least %d, got %d", envVar, minimum, v)
	}
	return v, nil
}
