package config

import (
	"os"
	"strings"
)

const (
	portEnvVar       = "PORT"
	appNameVar       = "APP_NAME"
	envVar           = "ENV"
	identitiesEnvVar = "IDENTITIES_FILE"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Authority")
}

func (EnvVars) GetEnv() string {
	return GetEnv(envVar, "DEV")
}

// GetIdentitiesFile returns the TOML file holding the registered principals.
// Empty means the built-in sample principals are used.
func (EnvVars) GetIdentitiesFile() string {
	return GetEnv(identitiesEnvVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(envVar))
	if value == "" {
		return defaultValue
	}
	return value
}
