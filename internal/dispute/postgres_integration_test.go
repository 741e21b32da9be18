//go:build integration

package dispute

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chargeguard/internal/merchant"
	"github.com/mbd888/chargeguard/internal/testutil"
)

func TestPostgresStore_StickyFieldsSurviveUpsert(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, merchant.NewPostgresStore(db).Upsert(ctx, testMerchant()))
	store := NewPostgresStore(db)

	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	submittedAt := created.Add(time.Hour)
	require.NoError(t, store.Upsert(ctx, &Record{
		ID: "dp_pg", MerchantID: "mer_1", Status: "needs_response", Amount: 2500,
		CreatedAt: &created, Submitted: true, SubmittedAt: &submittedAt,
		Deflected: true, DeflectionReason: "goodwill", RefundID: "re_1",
		EvidenceSummary:    []string{"playbook"},
		SubmissionAttempts: []Attempt{{ID: "a1", At: submittedAt, Success: true, Message: "auto-submitted", Trigger: TriggerWebhook}},
	}))

	// A stale writer tries to clear the sticky fields.
	later := created.Add(48 * time.Hour)
	require.NoError(t, store.Upsert(ctx, &Record{
		ID: "dp_pg", MerchantID: "mer_1", Status: "won", Amount: 2500,
		CreatedAt: &later, DeflectionReason: "other", RefundID: "re_2",
	}))

	got, err := store.Get(ctx, "dp_pg")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.Submitted)
	assert.True(t, got.Deflected)
	assert.Equal(t, "goodwill", got.DeflectionReason)
	assert.Equal(t, "re_1", got.RefundID)
	assert.Equal(t, StatusWon, got.Status)

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	byMerchant, err := store.ListByMerchant(ctx, "mer_1")
	require.NoError(t, err)
	assert.Len(t, byMerchant, 1)
}

// slowProcessor holds each submission open long enough for a second
// process to race the first.
type slowProcessor struct {
	*fakeProcessor
	delay time.Duration
}

func (p *slowProcessor) SubmitEvidence(ctx context.Context, account, disputeID string, payload EvidencePayload) error {
	time.Sleep(p.delay)
	return p.fakeProcessor.SubmitEvidence(ctx, account, disputeID, payload)
}

func TestPostgresStore_RetryAcrossProcessesSubmitsOnce(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	merchants := merchant.NewPostgresStore(db)
	require.NoError(t, merchants.Upsert(ctx, testMerchant()))
	require.NoError(t, NewPostgresStore(db).Upsert(ctx, func() *Record {
		r := readyRecord()
		r.MerchantID = "mer_1"
		return r
	}()))

	proc := &slowProcessor{fakeProcessor: newFakeProcessor(), delay: 200 * time.Millisecond}
	// Two services with their own in-process locks stand in for two replicas.
	newReplica := func() *Service {
		return NewService(NewPostgresStore(db), merchants, proc, nil).
			WithClock(func() time.Time { return t0 })
	}
	replicas := []*Service{newReplica(), newReplica()}

	results := make([]*RetryResult, len(replicas))
	var wg sync.WaitGroup
	for i, svc := range replicas {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			res, err := svc.Retry(ctx, "dp_ready", TriggerManualRetry)
			assert.NoError(t, err)
			results[i] = res
		}(i, svc)
	}
	wg.Wait()

	assert.Equal(t, 1, proc.submitCount())
	var ok, blocked int
	for _, res := range results {
		require.NotNil(t, res)
		if res.OK {
			ok++
		} else if res.Readiness.Reason == ReasonAlreadySubmitted {
			blocked++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, blocked)

	got, err := NewPostgresStore(db).Get(ctx, "dp_ready")
	require.NoError(t, err)
	assert.True(t, got.Submitted)
	assert.Len(t, got.SubmissionAttempts, 1)
}
