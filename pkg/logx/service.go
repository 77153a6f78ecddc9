package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level   string
	Console bool
	// JSON writes console lines as raw JSON (journald).
	JSON bool
	// Stderr sends console output to stderr so command reports keep stdout.
	Stderr bool
	File   FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// DefaultFilePath is used when the file sink is enabled without a path.
const DefaultFilePath = "./punchclock.log"

// Service owns the sinks. Loggers from it observe every Apply.
type Service struct {
	mu   sync.Mutex
	file *os.File
	zl   atomic.Pointer[zerolog.Logger]
}

var globalsOnce sync.Once

// New builds a Service from cfg. A file sink that cannot be opened is reported
// on the returned logger and replaced by the console.
func New(cfg Config) (*Service, Logger) {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})
	s := &Service{}
	log := Logger{svc: s}
	if err := s.Apply(cfg); err != nil {
		log.Warn("log file unavailable; console only", Err(err))
	}
	return s, log
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply swaps level and sinks. The previous log file is closed once the new
// sinks are in place. It returns the file open error, if any; logging
// continues on the console in that case.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, f, err := openSinks(cfg)
	zl := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	s.zl.Store(&zl)

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = f
	return err
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	nop := zerolog.Nop()
	s.zl.Store(&nop)
	return err
}

func openSinks(cfg Config) (io.Writer, *os.File, error) {
	var out io.Writer = os.Stdout
	if cfg.Stderr {
		out = os.Stderr
	}
	console := out
	if !cfg.JSON {
		console = zerolog.ConsoleWriter{
			Out:          out,
			TimeFormat:   timeFormat,
			FormatCaller: func(i any) string {
				s, _ := i.(string)
				return s
			},
		}
	}

	var (
		sinks []io.Writer
		file  *os.File
		err   error
	)
	if cfg.Console {
		sinks = append(sinks, console)
	}
	if cfg.File.Enabled {
		file, err = openFile(cfg.File.Path)
		if err == nil {
			sinks = append(sinks, zerolog.SyncWriter(file))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, console)
	}
	if len(sinks) == 1 {
		return sinks[0], file, err
	}
	return zerolog.MultiLevelWriter(sinks...), file, err
}

func openFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log file %q: %w", path, err)
	}
	return f, nil
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}
