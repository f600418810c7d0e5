package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMemoryStore_PlaceholderHashMatchesStoreCost(t *testing.T) {
	tests := []struct {
		name string
		cost int
	}{
		{name: "min cost", cost: bcrypt.MinCost},
		{name: "above min cost", cost: bcrypt.MinCost + 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := FromRegistrations(SampleRegistrations(), tt.cost)
			require.NoError(t, err)

			cost, err := bcrypt.Cost([]byte(store.dummyHash))
			require.NoError(t, err)
			require.Equal(t, tt.cost, cost)
		})
	}
}

func TestMemoryStore_EmptyStoreUsesDefaultCost(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(store.dummyHash))
	require.NoError(t, err)
	require.Equal(t, bcrypt.DefaultCost, cost)
}

func TestMemoryStore_SpendPasswordCheckMatchesNothing(t *testing.T) {
	store, err := FromRegistrations(SampleRegistrations(), bcrypt.MinCost)
	require.NoError(t, err)

	require.False(t, CheckPasswordHash("PasswordA", store.dummyHash))
	store.SpendPasswordCheck("PasswordA")
}
