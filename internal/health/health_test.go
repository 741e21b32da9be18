package health

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(name string) Checker {
	return func(context.Context) Status { return Status{Name: name, Healthy: true} }
}

func TestCheckAll_EmptyIsHealthy(t *testing.T) {
	ok, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, ok)
	assert.Empty(t, statuses)
}

func TestCheckAll_AnyFailureIsUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", healthy("database"))
	r.Register("redis", func(context.Context) Status {
		return Status{Healthy: false, Detail: "dial tcp: connection refused"}
	})

	ok, statuses := r.CheckAll(context.Background())
	assert.False(t, ok)
	require.Len(t, statuses, 2)
	assert.Equal(t, "redis", statuses[1].Name, "empty name is filled from registration")
	assert.Equal(t, "dial tcp: connection refused", statuses[1].Detail)
}

func TestCheckAll_KeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	// later checkers finish first
	for i, name := range []string{"database", "redis", "sweep"} {
		delay := time.Duration(3-i) * 10 * time.Millisecond
		r.Register(name, func(context.Context) Status {
			time.Sleep(delay)
			return Status{Healthy: true}
		})
	}

	ok, statuses := r.CheckAll(context.Background())
	assert.True(t, ok)
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"database", "redis", "sweep"}, names)
}

func TestCheckAll_RunsCheckersConcurrently(t *testing.T) {
	r := NewRegistry()
	var inFlight, peak atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		r.Register(name, func(context.Context) Status {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			inFlight.Add(-1)
			return Status{Healthy: true}
		})
	}

	r.CheckAll(context.Background())
	assert.Greater(t, peak.Load(), int32(1))
}

func TestRegistry_ConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("sweep", healthy("sweep"))
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()

	_, statuses := r.CheckAll(context.Background())
	assert.Len(t, statuses, 10)
}
