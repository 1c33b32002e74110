package identity

import (
	"testing"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/testdb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionCreatesTrialAccountOnce(t *testing.T) {
	svc := NewService(testdb.Open(t, &models.Account{}))

	acc, err := svc.Provision("sub-abc", "first@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.TierTrial, acc.Tier)
	assert.Equal(t, 0, acc.TrialUsage)

	again, err := svc.Provision("sub-abc", "first@example.com")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, again.ID)
}

func TestProvisionSyncsProviderEmail(t *testing.T) {
	svc := NewService(testdb.Open(t, &models.Account{}))

	acc, err := svc.Provision("sub-abc", "old@example.com")
	require.NoError(t, err)

	updated, err := svc.Provision("sub-abc", "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, updated.ID)
	assert.Equal(t, "new@example.com", updated.Email)

	byID, err := svc.ByID(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", byID.Email)
}

func TestLookupsReturnNotFound(t *testing.T) {
	svc := NewService(testdb.Open(t, &models.Account{}))

	_, err := svc.ByID(uuid.New())
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = svc.ByStripeCustomer("cus_missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = svc.BySubscription("sub_missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = svc.ByEmail("nobody@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
