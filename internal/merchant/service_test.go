package merchant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_CreateAndLookup(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	m, err := svc.Create(ctx, " Acme ", "acct_1")
	require.NoError(t, err)
	assert.Contains(t, m.ID, "mer_")
	assert.Equal(t, "Acme", m.Name)
	assert.Equal(t, DefaultPolicy().MinEvidenceScore, m.Policy.MinEvidenceScore)
	assert.False(t, m.Policy.AutoSubmitEnabled)

	got, err := svc.GetByAccount(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = svc.Create(ctx, "Copycat", "acct_1")
	assert.ErrorIs(t, err, ErrAccountTaken)

	_, err = svc.GetByAccount(ctx, "acct_missing")
	assert.ErrorIs(t, err, ErrMerchantNotFound)
}

func TestService_UpdatePolicy(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	m, err := svc.Create(ctx, "Acme", "")
	require.NoError(t, err)

	p := DefaultPolicy()
	p.AutoSubmitEnabled = true
	p.AutoSubmitReasons = []string{"Duplicate"}
	updated, err := svc.UpdatePolicy(ctx, m.ID, p)
	require.NoError(t, err)
	assert.True(t, updated.Policy.AutoSubmitEnabled)
	assert.Equal(t, []string{"duplicate"}, updated.Policy.AutoSubmitReasons)

	p.MinEvidenceScore = 500
	_, err = svc.UpdatePolicy(ctx, m.ID, p)
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = svc.UpdatePolicy(ctx, "mer_missing", DefaultPolicy())
	assert.ErrorIs(t, err, ErrMerchantNotFound)
}

func TestService_SetAutoSubmitReasonsKeepsToggle(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	m, err := svc.Create(ctx, "Acme", "")
	require.NoError(t, err)

	updated, err := svc.SetAutoSubmitReasons(ctx, m.ID, []string{"fraudulent", "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, []string{"duplicate", "fraudulent"}, updated.Policy.AutoSubmitReasons)
	assert.False(t, updated.Policy.AutoSubmitEnabled)
}

func TestService_UpdateProfile(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	m, err := svc.Create(ctx, "Acme", "")
	require.NoError(t, err)

	updated, err := svc.UpdateProfile(ctx, m.ID, EvidenceProfile{ProductDescription: "Widgets for {{customer_name}}"})
	require.NoError(t, err)
	assert.Equal(t, "Widgets for {{customer_name}}", updated.Profile.ProductDescription)

	got, err := svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Profile, got.Profile)
}

func TestMemoryStore_AccountRelink(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, &Merchant{ID: "mer_1", StripeAccountID: "acct_old"}))
	require.NoError(t, store.Upsert(ctx, &Merchant{ID: "mer_1", StripeAccountID: "acct_new"}))

	_, err := store.GetByAccount(ctx, "acct_old")
	assert.ErrorIs(t, err, ErrMerchantNotFound)

	// the released account can be claimed by someone else
	require.NoError(t, store.Upsert(ctx, &Merchant{ID: "mer_2", StripeAccountID: "acct_old"}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
