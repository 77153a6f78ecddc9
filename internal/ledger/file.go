package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"punchclock/internal/calendar"
	"punchclock/internal/punch"
	logx "punchclock/pkg/logx"
)

// document is the on-disk shape: date (YYYY-MM-DD) -> kind name -> entry.
type document map[string]Day

// fileLedger keeps the whole ledger in one indented JSON document so operators
// can read and diff it. The file is re-read on every call so external edits
// (and corruption) are seen immediately, and replaced atomically on write.
type fileLedger struct {
	log       logx.Logger
	path      string
	retention int

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("ledger.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	l := &fileLedger{log: log, path: path, retention: cfg.RetentionDays}

	// Surface corruption at startup; the engine still starts and every gate
	// evaluation fails closed until an operator repairs the file.
	if _, err := l.load(); err != nil {
		log.Error("ledger unreadable", logx.String("path", path), logx.Err(err))
	}
	return l, nil
}

func (l *fileLedger) load() (document, error) {
	b, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", l.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return document{}, nil
	}
	doc := document{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, l.path, err)
	}
	for k := range doc {
		if _, err := calendar.ParseDate(k); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, l.path, err)
		}
	}
	return doc, nil
}

func (l *fileLedger) save(doc document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if err := atomic.WriteFile(l.path, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("ledger: write %s: %w", l.path, err)
	}
	return nil
}

// read loads the document under the lock.
func (l *fileLedger) read() (document, error) {
	if l.closed {
		return nil, ErrClosed
	}
	return l.load()
}

func (l *fileLedger) IsCompleted(ctx context.Context, date calendar.Date, kind punch.EventKind) (bool, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return false, err
	}
	return doc[date.String()][kind].Completed, nil
}

func (l *fileLedger) RecordCompletion(ctx context.Context, c Completion) error {
	_ = ctx
	if !c.Kind.Valid() {
		return fmt.Errorf("ledger: invalid kind %d", int(c.Kind))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return err
	}

	key := c.Date.String()
	day := doc[key]
	if day == nil {
		day = Day{}
		doc[key] = day
	}
	if prev, ok := day[c.Kind]; ok && prev.Completed {
		l.log.Warn("completion already recorded; keeping first",
			logx.String("date", key),
			logx.String("kind", c.Kind.String()),
			logx.String("first", prev.CompletionTime),
		)
		return nil
	}
	day[c.Kind] = c.entry()

	pruned := l.prune(doc, c.Date)
	if err := l.save(doc); err != nil {
		return err
	}
	if pruned > 0 {
		l.log.Debug("ledger pruned", logx.Int("dates", pruned), logx.Int("retention_days", l.retention))
	}
	return nil
}

// prune drops dates older than the retention window ending at the newest stored
// date (or newest, when later), then caps the document at retention dates.
func (l *fileLedger) prune(doc document, newest calendar.Date) int {
	dates := sortedDates(doc)
	if len(dates) > 0 && dates[0].After(newest) {
		newest = dates[0]
	}
	cutoff := retentionCutoff(newest, l.retention)
	removed := 0
	kept := 0
	for _, d := range dates {
		if d.Before(cutoff) || kept >= l.retention {
			delete(doc, d.String())
			removed++
			continue
		}
		kept++
	}
	return removed
}

func (l *fileLedger) TimeSinceLastCompletion(ctx context.Context, date calendar.Date, now time.Time) (time.Duration, bool, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return 0, false, err
	}
	d, ok := sinceLatest(doc[date.String()], now)
	return d, ok, nil
}

func (l *fileLedger) Day(ctx context.Context, date calendar.Date) (Day, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return nil, err
	}
	out := Day{}
	for k, e := range doc[date.String()] {
		out[k] = e
	}
	return out, nil
}

func (l *fileLedger) Dates(ctx context.Context) ([]calendar.Date, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return nil, err
	}
	return sortedDates(doc), nil
}

func (l *fileLedger) ClearDay(ctx context.Context, date calendar.Date) (int, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return 0, err
	}
	n := len(doc[date.String()])
	if n == 0 {
		return 0, nil
	}
	delete(doc, date.String())
	return n, l.save(doc)
}

func (l *fileLedger) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// sortedDates returns the document's dates newest first. Keys were validated on load.
func sortedDates(doc document) []calendar.Date {
	out := make([]calendar.Date, 0, len(doc))
	for k := range doc {
		if d, err := calendar.ParseDate(k); err == nil {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out
}
