package token

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	apperrors "github.com/jrsteele09/go-session-authority/internal/errors"
)

// MinBytes is the smallest identifier width accepted (128 bits).
const MinBytes = 16

// Generator produces opaque, unpredictable identifiers for handshake and session tokens.
type Generator interface {
	NewIdentifier() (string, error)
}

// RandomGenerator draws identifiers from crypto/rand and hex encodes them.
type RandomGenerator struct {
	length int
	source io.Reader
}

var _ Generator = (*RandomGenerator)(nil)

// GeneratorOption configures a RandomGenerator.
type GeneratorOption func(*RandomGenerator)

// WithSource replaces the entropy source (primarily for testing).
func WithSource(r io.Reader) GeneratorOption {
	return func(g *RandomGenerator) {
		g.source = r
	}
}

// NewRandomGenerator returns a generator producing length random bytes per identifier.
func NewRandomGenerator(length int, options ...GeneratorOption) (*RandomGenerator, error) {
	if length < MinBytes {
		return nil, apperrors.Wrapf(apperrors.ErrMisconfiguration, "token length %d is below the %d byte minimum", length, MinBytes)
	}
	g := &RandomGenerator{
		length: length,
		source: rand.Reader,
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

func (g *RandomGenerator) NewIdentifier() (string, error) {
	tokenBytes := make([]byte, g.length)
	if _, err := io.ReadFull(g.source, tokenBytes); err != nil {
		return "", apperrors.Wrapf(apperrors.ErrEntropy, "read %d random bytes: %v", g.length, err)
	}
	return hex.EncodeToString(tokenBytes), nil
}
