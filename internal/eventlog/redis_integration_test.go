//go:build integration

package eventlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLog_MarkSeen(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	log, err := NewRedisLog(url, time.Minute)
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	require.NoError(t, log.Ping(ctx))

	id := "evt_" + uuid.NewString()
	first, err := log.MarkSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = log.MarkSeen(ctx, id)
	require.NoError(t, err)
	assert.False(t, first)

	require.NoError(t, log.Forget(ctx, id))
	first, err = log.MarkSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)
}
