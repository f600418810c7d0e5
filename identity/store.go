package identity

import (
	apperrors "github.com/jrsteele09/go-session-authority/internal/errors"
	"golang.org/x/crypto/bcrypt"
)

// Store looks up registered principals. Implementations must be safe for
// concurrent reads.
type Store interface {
	// FindByUsername returns the principal and true, or nil and false when no such
	// user is registered.
	FindByUsername(username string) (*Principal, bool)

	// SpendPasswordCheck does the work of one password check without matching
	// anything. It is called for unknown usernames so that they take as long to
	// reject as a wrong password.
	SpendPasswordCheck(password string)
}

// MemoryStore is a fixed set of principals. It is never written after construction,
// so lookups need no locking.
type MemoryStore struct {
	byUsername map[string]*Principal
	dummyHash  string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore indexes principals by username. Usernames must be unique.
func NewMemoryStore(principals ...*Principal) (*MemoryStore, error) {
	byUsername := make(map[string]*Principal, len(principals))
	for _, p := range principals {
		if p == nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidPrincipal, "nil principal")
		}
		if _, exists := byUsername[p.Username]; exists {
			return nil, apperrors.Wrapf(apperrors.ErrDuplicatePrincipal, "username %q", p.Username)
		}
		byUsername[p.Username] = p
	}

	dummyHash, err := HashPassword("not-a-real-password", storeCost(principals))
	if err != nil {
		return nil, apperrors.Wrapf(err, "hash placeholder password")
	}
	return &MemoryStore{byUsername: byUsername, dummyHash: dummyHash}, nil
}

// storeCost is the highest bcrypt cost among the principals, or DefaultCost for an
// empty store.
func storeCost(principals []*Principal) int {
	cost := 0
	for _, p := range principals {
		if c, err := bcrypt.Cost([]byte(p.PasswordHash)); err == nil && c > cost {
			cost = c
		}
	}
	if cost == 0 {
		return bcrypt.DefaultCost
	}
	return cost
}

// FromRegistrations hashes and indexes a list of registrations.
func FromRegistrations(regs []Registration, cost int) (*MemoryStore, error) {
	principals := make([]*Principal, 0, len(regs))
	for _, reg := range regs {
		p, err := NewPrincipal(reg, cost)
		if err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	return NewMemoryStore(principals...)
}

func (s *MemoryStore) FindByUsername(username string) (*Principal, bool) {
	p, ok := s.byUsername[username]
	return p, ok
}

func (s *MemoryStore) SpendPasswordCheck(password string) {
	_ = CheckPasswordHash(password, s.dummyHash)
}

// Len returns the number of registered principals.
func (s *MemoryStore) Len() int {
	return len(s.byUsername)
}
