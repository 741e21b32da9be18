package health

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single checker run.
const DefaultTimeout = 2 * time.Second

// ContextPinger is satisfied by *sql.DB.
type ContextPinger interface {
	PingContext(ctx context.Context) error
}

// Database reports the reachability of a SQL connection pool.
func Database(name string, db ContextPinger) Checker {
	return Ping(name, db.PingContext)
}

// Ping wraps any connectivity check (a Redis PING, a pool ping) as a
// Checker bounded by DefaultTimeout.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
		if err := ping(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Loop reports whether a background loop, such as the sweep timer, is alive.
func Loop(name string, running func() bool) Checker {
	return func(context.Context) Status {
		if !running() {
			return Status{Name: name, Healthy: false, Detail: "not running"}
		}
		return Status{Name: name, Healthy: true}
	}
}
