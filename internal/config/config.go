package config

import (
	"time"
)

type Config interface {
	EnvConfig
	SessionConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetIdentitiesFile() string
}

// SessionConfig supplies the lifetimes applied when tokens are issued.
type SessionConfig interface {
	GetHandshakeTTL() time.Duration
	GetSessionTTL() time.Duration
}

type mainConfig struct {
	EnvVars
	Session
	Security
}

// New reads the configuration from the environment. A missing or invalid TTL is
// reported as ErrMisconfiguration and the process should not start.
func New() (Config, error) {
	session, err := sessionFromEnv()
	if err != nil {
		return nil, err
	}
	security, err := securityFromEnv()
	if err != nil {
		return nil, err
	}
	return mainConfig{
		Session:  session,
		Security: security,
	}, nil
}
