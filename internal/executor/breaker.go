package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the wrapped executor while the
// breaker is open.
var ErrCircuitOpen = errors.New("executor: circuit open after repeated failures")

type BreakerConfig struct {
	// Trip is the number of consecutive failures that opens the circuit.
	// 0 means 3; negative disables the breaker.
	Trip int
	// BaseDelay is the first open period; it doubles per further failure up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// ResetAfter forgets old failures when the last one is older than this.
	ResetAfter time.Duration
}

// Breaker is a consecutive-failure circuit breaker with exponential cooldown:
//   - on success: failures reset and the circuit closes
//   - on failure: failures increment and, once failures >= Trip, the circuit
//     opens for BaseDelay * 2^(failures-Trip), capped at MaxDelay
//
// Context cancellation by the caller is not counted as a failure.
type Breaker struct {
	next Executor
	cfg  BreakerConfig
	now  func() time.Time

	mu          sync.Mutex
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func NewBreaker(next Executor, cfg BreakerConfig) *Breaker {
	if cfg.Trip == 0 {
		cfg.Trip = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Minute
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Minute
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = time.Hour
	}
	return &Breaker{next: next, cfg: cfg, now: time.Now}
}

func (b *Breaker) ProbeState(ctx context.Context) (State, error) {
	if err := b.allow(); err != nil {
		return Unknown, err
	}
	st, err := b.next.ProbeState(ctx)
	b.record(ctx, err)
	return st, err
}

func (b *Breaker) PerformAction(ctx context.Context, expected Direction) (Direction, error) {
	if err := b.allow(); err != nil {
		return None, err
	}
	d, err := b.next.PerformAction(ctx, expected)
	b.record(ctx, err)
	return d, err
}

// OpenUntil reports when the circuit closes again; zero when closed.
func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Before(b.openUntil) {
		return b.openUntil
	}
	return time.Time{}
}

func (b *Breaker) allow() error {
	if b.cfg.Trip < 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.resetIfOldLocked(now)
	if now.Before(b.openUntil) {
		return fmt.Errorf("%w (until %s)", ErrCircuitOpen, b.openUntil.Format(time.RFC3339))
	}
	return nil
}

func (b *Breaker) resetIfOldLocked(now time.Time) {
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.ResetAfter {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
	}
}

func (b *Breaker) record(ctx context.Context, err error) {
	if b.cfg.Trip < 0 || (err != nil && ctx.Err() != nil) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.resetIfOldLocked(now)

	if err == nil {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
		return
	}
	b.fails++
	b.lastFailure = now
	if b.fails < b.cfg.Trip {
		return
	}
	d := b.cfg.BaseDelay
	for i := 0; i < b.fails-b.cfg.Trip; i++ {
		d *= 2
		if d >= b.cfg.MaxDelay {
			break
		}
	}
	if d > b.cfg.MaxDelay {
		d = b.cfg.MaxDelay
	}
	b.openUntil = now.Add(d)
}
