package executor

import (
	"context"
	"sync"
	"time"
)

const DefaultProbeCacheTTL = 60 * time.Second

// Cached remembers the last known ProbeState for ttl. Any PerformAction
// invalidates it. Unknown answers and errors are never cached.
type Cached struct {
	next Executor
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	state State
	at    time.Time
	valid bool
}

func NewCached(next Executor, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultProbeCacheTTL
	}
	return &Cached{next: next, ttl: ttl, now: time.Now}
}

func (c *Cached) ProbeState(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.valid && c.now().Sub(c.at) < c.ttl {
		st := c.state
		c.mu.Unlock()
		return st, nil
	}
	c.mu.Unlock()

	st, err := c.next.ProbeState(ctx)
	if err != nil || st == Unknown {
		return st, err
	}
	c.mu.Lock()
	c.state, c.at, c.valid = st, c.now(), true
	c.mu.Unlock()
	return st, nil
}

func (c *Cached) PerformAction(ctx context.Context, expected Direction) (Direction, error) {
	c.Invalidate()
	defer c.Invalidate()
	return c.next.PerformAction(ctx, expected)
}

func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Unavailable is the executor used when no command is configured. Every call
// fails with ErrUnavailable, so the runner never records anything.
type Unavailable struct{}

func (Unavailable) ProbeState(context.Context) (State, error) { return Unknown, ErrUnavailable }

func (Unavailable) PerformAction(context.Context, Direction) (Direction, error) {
	return None, ErrUnavailable
}
