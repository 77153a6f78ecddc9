package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"punchclock/internal/calendar"
	"punchclock/internal/punch"
	logx "punchclock/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteLedger struct {
	db        *sql.DB
	log       logx.Logger
	retention int
}

func openSQLite(cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("ledger.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes every read-modify-write in-process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &sqliteLedger{db: db, log: log, retention: cfg.RetentionDays}, nil
}

func (s *sqliteLedger) IsCompleted(ctx context.Context, date calendar.Date, kind punch.EventKind) (bool, error) {
	var completed int
	err := s.db.QueryRowContext(ctx,
		`SELECT completed FROM completions WHERE date = ? AND kind = ?`,
		date.String(), kind.String(),
	).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: query: %w", err)
	}
	return completed != 0, nil
}

func (s *sqliteLedger) RecordCompletion(ctx context.Context, c Completion) error {
	if !c.Kind.Valid() {
		return fmt.Errorf("ledger: invalid kind %d", int(c.Kind))
	}
	e := c.entry()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO completions(date, kind, completed, completion_time, completion_epoch, drift_minutes, source)
		 VALUES(?,?,1,?,?,?,?)
		 ON CONFLICT(date, kind) DO NOTHING`,
		c.Date.String(), c.Kind.String(), e.CompletionTime, e.CompletionEpoch, e.DriftMinutes, string(e.Source),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.log.Warn("completion already recorded; keeping first",
			logx.String("date", c.Date.String()),
			logx.String("kind", c.Kind.String()),
		)
	}

	// Keep the newest retention dates, never anything before the window that
	// ends at the newest stored date.
	var newestRaw string
	if err := tx.QueryRowContext(ctx, `SELECT MAX(date) FROM completions`).Scan(&newestRaw); err != nil {
		return fmt.Errorf("ledger: prune: %w", err)
	}
	newest := c.Date
	if d, err := calendar.ParseDate(newestRaw); err == nil && d.After(newest) {
		newest = d
	}
	cutoff := retentionCutoff(newest, s.retention)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM completions
		 WHERE date < ?
		    OR date NOT IN (SELECT DISTINCT date FROM completions ORDER BY date DESC LIMIT ?)`,
		cutoff.String(), s.retention,
	); err != nil {
		return fmt.Errorf("ledger: prune: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

func (s *sqliteLedger) TimeSinceLastCompletion(ctx context.Context, date calendar.Date, now time.Time) (time.Duration, bool, error) {
	day, err := s.Day(ctx, date)
	if err != nil {
		return 0, false, err
	}
	d, ok := sinceLatest(day, now)
	return d, ok, nil
}

func (s *sqliteLedger) Day(ctx context.Context, date calendar.Date) (Day, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, completed, completion_time, completion_epoch, drift_minutes, COALESCE(source, '')
		 FROM completions WHERE date = ?`,
		date.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer rows.Close()

	out := Day{}
	for rows.Next() {
		var (
			kindName  string
			completed int
			e         Entry
			source    string
		)
		if err := rows.Scan(&kindName, &completed, &e.CompletionTime, &e.CompletionEpoch, &e.DriftMinutes, &source); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		kind, err := punch.ParseEventKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		e.Completed = completed != 0
		e.Source = Source(source)
		out[kind] = e
	}
	return out, rows.Err()
}

func (s *sqliteLedger) Dates(ctx context.Context) ([]calendar.Date, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT date FROM completions ORDER BY date DESC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer rows.Close()

	var out []calendar.Date
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		d, err := calendar.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteLedger) ClearDay(ctx context.Context, date calendar.Date) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM completions WHERE date = ?`, date.String())
	if err != nil {
		return 0, fmt.Errorf("ledger: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteLedger) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
