package identity

import (
	"github.com/BurntSushi/toml"
	apperrors "github.com/jrsteele09/go-session-authority/internal/errors"
)

// identitiesFile is the TOML layout of an identities file:
//
//	[[principal]]
//	username = "UserA"
//	password = "PasswordA"
//	second_factor = "static"
//	secret = "SecretA"
type identitiesFile struct {
	Principals []Registration `toml:"principal"`
}

// SampleRegistrations are the built-in principals used when no identities file is
// configured. For demonstration only.
func SampleRegistrations() []Registration {
	return []Registration{
		{Username: "UserA", Password: "PasswordA", SecondFactor: SecondFactorStatic, Secret: "SecretA"},
		{Username: "UserB", Password: "PasswordB", SecondFactor: SecondFactorStatic, Secret: "SecretB"},
		{Username: "UserC", Password: "PasswordC", SecondFactor: SecondFactorStatic, Secret: "SecretC"},
	}
}

// LoadFile reads principals from a TOML identities file.
func LoadFile(path string, cost int) (*MemoryStore, error) {
	var f identitiesFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, apperrors.Wrapf(err, "decode identities file %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidPrincipal, "unknown keys in %s: %v", path, undecoded)
	}
	return FromRegistrations(f.Principals, cost)
}
