package config

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	rtsup "punchclock/internal/runtime/supervisor"
	logx "punchclock/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
)

var watchRetry = rtsup.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file by rename are seen.
// A watcher that fails is recreated with doubling delays.
func (m *Manager) Watch(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := watchRetry.Delay(attempt)
		m.log.Warn("config watcher failed; retrying", logx.Err(err), logx.Duration("in", wait))
		if !rtsup.Sleep(ctx, wait) {
			return nil
		}
	}
}

func (m *Manager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	dir, name := filepath.Split(filepath.Clean(m.path))
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("watching config", logx.String("path", m.path))

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fsnotify.ErrClosed
			}
			if filepath.Base(ev.Name) == name && !ev.Has(fsnotify.Chmod) {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fsnotify.ErrClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading")
				debounce.Reset(reloadDebounce)
				continue
			}
			return err
		case <-debounce.C:
			vctx, cancel := context.WithTimeout(ctx, validateTimeout)
			changed, err := m.reload(vctx)
			cancel()
			switch {
			case err != nil:
				m.log.Warn("config reload failed; keeping previous", logx.String("path", m.path), logx.Err(err))
			case changed:
				m.log.Debug("config reloaded", logx.String("path", m.path))
			}
		}
	}
}
