package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_IdempotentOnDedupeKey(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	ctx := context.Background()

	first, created, err := svc.Record(ctx, "mer_1", KindAlert, RecordRequest{DedupeKey: " ethoca-123 ", Source: "ethoca"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ethoca-123", first.DedupeKey)
	assert.Contains(t, first.ID, "alt_")

	again, created, err := svc.Record(ctx, "mer_1", KindAlert, RecordRequest{DedupeKey: "ethoca-123"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "ethoca", again.Source)

	// same key on another kind or merchant is distinct
	_, created, err = svc.Record(ctx, "mer_1", KindInquiry, RecordRequest{DedupeKey: "ethoca-123"})
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = svc.Record(ctx, "mer_2", KindAlert, RecordRequest{DedupeKey: "ethoca-123"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRecord_Validation(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	_, _, err := svc.Record(context.Background(), "mer_1", KindAlert, RecordRequest{DedupeKey: "  "})
	assert.ErrorIs(t, err, ErrInvalidSignal)
	_, _, err = svc.Record(context.Background(), "mer_1", Kind("chargeback"), RecordRequest{DedupeKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

func TestCountSince(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-24 * time.Hour)

	for i, at := range []time.Time{old, recent, recent} {
		at := at
		_, _, err := svc.Record(ctx, "mer_1", KindAlert, RecordRequest{DedupeKey: string(rune('a' + i)), CreatedAt: &at})
		require.NoError(t, err)
	}
	_, _, err := svc.Record(ctx, "mer_1", KindInquiry, RecordRequest{DedupeKey: "q", CreatedAt: &recent})
	require.NoError(t, err)

	alerts, inquiries, err := svc.CountSince(ctx, "mer_1", now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, alerts)
	assert.Equal(t, 1, inquiries)

	list, err := svc.List(ctx, "mer_1", KindAlert, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
