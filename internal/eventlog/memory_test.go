package eventlog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLog_MarkSeen(t *testing.T) {
	log := NewMemoryLog(time.Hour)
	ctx := context.Background()

	first, err := log.MarkSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = log.MarkSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, first)

	_, err = log.MarkSeen(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyEventID)
}

func TestMemoryLog_Expiry(t *testing.T) {
	log := NewMemoryLog(time.Hour)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := log.MarkSeen(ctx, "evt_1")
	require.NoError(t, err)

	now = now.Add(59 * time.Minute)
	first, _ := log.MarkSeen(ctx, "evt_1")
	assert.False(t, first)

	now = now.Add(2 * time.Minute)
	first, _ = log.MarkSeen(ctx, "evt_1")
	assert.True(t, first, "expired ids are accepted again")
}

func TestMemoryLog_Prunes(t *testing.T) {
	log := NewMemoryLog(time.Minute)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _ = log.MarkSeen(ctx, id)
	}
	now = now.Add(10 * time.Minute)
	_, _ = log.MarkSeen(ctx, "d")
	assert.Equal(t, 1, log.Len())
}

func TestMemoryLog_Forget(t *testing.T) {
	log := NewMemoryLog(0)
	ctx := context.Background()

	_, _ = log.MarkSeen(ctx, "evt_1")
	require.NoError(t, log.Forget(ctx, "evt_1"))
	first, err := log.MarkSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestMemoryLog_ConcurrentFirstDelivery(t *testing.T) {
	log := NewMemoryLog(time.Hour)
	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := log.MarkSeen(context.Background(), "evt_race"); ok {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), firsts.Load())
}
