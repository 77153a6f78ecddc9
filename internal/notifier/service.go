package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"punchclock/internal/eventbus"
	rtsup "punchclock/internal/runtime/supervisor"
	kit "punchclock/internal/transport"
	logx "punchclock/pkg/logx"
)

const sendTimeout = 10 * time.Second

// Service is safe for concurrent use. Notify only queues; workers deliver.
type Service struct {
	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus
	seen   *dedup

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	cur     *session
}

// session is one Start..Stop cycle.
type session struct {
	queue    chan kit.Notification
	sup      *rtsup.Supervisor
	unsub    func()
	closing  bool
	inflight sync.WaitGroup
	done     chan struct{}
}

// New returns a stopped service. A nil sender logs messages instead.
func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sender == nil {
		sender = kit.LogSender{Log: log}
	}
	s := &Service{sender: sender, log: log.With(logx.String("comp", "notifier")), bus: bus, seen: newDedup()}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply takes effect immediately for limits, dedup and severity.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers and subscribes to escalations. It does nothing
// while disabled or already running, and waits for a previous Stop to finish.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	for s.cur != nil && s.cur.closing {
		done := s.cur.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.cur != nil || !s.cfg.Enabled {
		return
	}

	ss := &session{
		queue: make(chan kit.Notification, s.cfg.QueueSize),
		sup:   rtsup.New(ctx, rtsup.WithLogger(s.log)),
		unsub: func() {},
		done:  make(chan struct{}),
	}
	s.cur = ss
	for i := 0; i < s.cfg.Workers; i++ {
		ss.sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.work(c, ss.queue)
			return nil
		}, rtsup.Backoff{})
	}
	if s.bus != nil {
		events, unsub := s.bus.Subscribe(64, eventbus.TypeEscalation)
		ss.unsub = unsub
		ss.sup.Go0("notifier.escalations", func(c context.Context) { s.forward(c, events) })
	}
	s.log.Info("notifier started", logx.String("channel", s.sender.Name()), logx.Int("workers", s.cfg.Workers))
}

// Stop refuses new messages and delivers what is queued until ctx is done;
// then pending sends are cancelled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	ss := s.cur
	if ss == nil {
		s.mu.Unlock()
		return
	}
	if !ss.closing {
		ss.closing = true
		ss.unsub()
		go func() {
			ss.inflight.Wait()
			close(ss.queue)
			_ = ss.sup.Wait(context.Background())
			s.mu.Lock()
			if s.cur == ss {
				s.cur = nil
			}
			s.mu.Unlock()
			close(ss.done)
		}()
	}
	s.mu.Unlock()

	select {
	case <-ss.done:
	case <-ctx.Done():
		ss.sup.Cancel()
	}
}

// Notify queues n. A repeat of a key seen within the dedup window is dropped
// silently.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	cfg, ss := s.cfg, s.cur
	switch {
	case !cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case ss == nil || ss.closing:
		s.mu.Unlock()
		return ErrStopped
	}
	ss.inflight.Add(1)
	s.mu.Unlock()
	defer ss.inflight.Done()

	key := n.Key
	if key == "" {
		key = n.Text
	}
	if cfg.DedupWindow > 0 && !s.seen.first(key, time.Now(), cfg.DedupWindow, cfg.DedupMaxEntries) {
		s.log.Debug("notification suppressed", logx.String("key", key))
		return nil
	}
	select {
	case ss.queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) forward(ctx context.Context, events <-chan eventbus.Event) {
	for {
		var ev eventbus.Event
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev = e
		}
		esc, ok := ev.Data.(eventbus.Escalation)
		if !ok {
			continue
		}
		s.mu.Lock()
		minSev, target := s.cfg.MinSeverity, s.cfg.Target
		s.mu.Unlock()
		if esc.Severity < minSev {
			continue
		}
		err := s.Notify(ctx, kit.Notification{
			Channel:  s.sender.Name(),
			Priority: priorityFor(esc.Severity),
			Target:   target,
			Text:     FormatEscalation(esc),
			Key:      escalationKey(esc),
		})
		switch {
		case errors.Is(err, ErrStopped):
			return
		case err != nil:
			s.log.Warn("escalation not queued", logx.String("reason", esc.Reason), logx.Err(err))
		}
	}
}

func (s *Service) work(ctx context.Context, q <-chan kit.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n kit.Notification) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()
	backoff := rtsup.Backoff{Min: cfg.RetryBase, Max: cfg.RetryMaxDelay}

	var err error
	for attempt := 1; ; attempt++ {
		if err = lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = s.sender.SendText(callCtx, n.Target, n.Text)
		cancel()
		if err == nil {
			return
		}
		if attempt > cfg.RetryMax {
			break
		}
		s.log.Debug("send failed; retrying", logx.Int("attempt", attempt), logx.Err(err))
		if !rtsup.Sleep(ctx, backoff.Delay(attempt)) {
			return
		}
	}
	s.log.Warn("notification failed", logx.String("channel", n.Channel), logx.Int("attempts", cfg.RetryMax+1), logx.Err(err))
}
