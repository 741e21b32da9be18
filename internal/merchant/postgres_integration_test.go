//go:build integration

package merchant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chargeguard/internal/testutil"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	store := NewPostgresStore(db)

	p := DefaultPolicy()
	p.AutoSubmitReasons = []string{"duplicate", "fraudulent"}
	m := &Merchant{ID: "mer_pg", Name: "Acme", StripeAccountID: "acct_pg", Policy: p,
		Profile: EvidenceProfile{TermsURL: "https://acme.test/terms"}}
	require.NoError(t, store.Upsert(ctx, m))

	got, err := store.GetByAccount(ctx, "acct_pg")
	require.NoError(t, err)
	assert.Equal(t, "mer_pg", got.ID)
	assert.Equal(t, p.AutoSubmitReasons, got.Policy.AutoSubmitReasons)
	assert.Equal(t, "https://acme.test/terms", got.Profile.TermsURL)

	err = store.Upsert(ctx, &Merchant{ID: "mer_other", StripeAccountID: "acct_pg"})
	assert.ErrorIs(t, err, ErrAccountTaken)

	// merchants without an account do not collide on the unique index
	require.NoError(t, store.Upsert(ctx, &Merchant{ID: "mer_a"}))
	require.NoError(t, store.Upsert(ctx, &Merchant{ID: "mer_b"}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
