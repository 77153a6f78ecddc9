package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"punchclock/internal/eventbus"
	logx "punchclock/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		loc:    loc,
		bus:    bus,
		parser: newParser(),
		byName: map[string]*trigger{},
	}
}

// newParser accepts both 5-field and 6-field (with seconds) specs and descriptors.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

func (s *Service) Location() *time.Location { return s.loc }

// Start begins firing registered triggers. ctx is the parent of every run.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.base, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, t := range s.triggers {
		if err := s.registerLocked(t); err != nil {
			s.c = nil
			s.cancel()
			return err
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.triggers)))
	return nil
}

// Stop stops firing, waits for in-flight runs until ctx is done, then cancels them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.mu.Unlock()
	if c == nil {
		return
	}

	// cron's stop context is done once every running job has returned.
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop deadline reached; cancelling in-flight runs")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) registerLocked(t *trigger) error {
	id, err := s.c.AddJob(t.spec, cron.FuncJob(func() { s.fire(t) }))
	if err != nil {
		return err
	}
	t.entryID = id
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("trigger registered", logx.String("name", t.name), logx.String("spec", t.spec), logx.String("next", s.previewLocked(t.spec, 3)))
	}
	return nil
}
