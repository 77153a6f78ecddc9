package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"

	logx "punchclock/pkg/logx"
)

// Validator rejects a decoded config before it is committed.
type Validator func(ctx context.Context, cfg *Config) error

// Manager holds the committed config and hands reloads to subscribers.
type Manager struct {
	path     string
	validate Validator
	log      logx.Logger

	mu   sync.RWMutex
	cfg  *Config
	hash uint64
	subs map[chan *Config]struct{}
}

// NewManager returns a manager for the file at path. validate may be nil.
func NewManager(path string, validate Validator) *Manager {
	return &Manager{path: path, validate: validate, log: logx.Nop(), subs: map[chan *Config]struct{}{}}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Parse reads and strictly decodes the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Load parses, validates and commits the file.
func (m *Manager) Load(ctx context.Context) (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if m.validate != nil {
		if err := m.validate(ctx, cfg); err != nil {
			return nil, err
		}
	}
	m.Commit(cfg)
	return cfg, nil
}

// Commit makes cfg current without notifying subscribers.
func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg, m.hash = cfg, hashConfig(cfg)
	m.mu.Unlock()
}

// Updates returns a channel receiving every config committed by a reload.
// Only the newest pending config is kept when the reader falls behind.
func (m *Manager) Updates() (<-chan *Config, func()) {
	ch := make(chan *Config, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.mu.Unlock()
		})
	}
}

// reload commits the file if it changed and passes validation. It reports
// whether subscribers were notified.
func (m *Manager) reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.hash
	m.mu.RUnlock()
	if same {
		return false, nil
	}
	if m.validate != nil {
		if err := m.validate(ctx, cfg); err != nil {
			return false, fmt.Errorf("rejected: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg, m.hash = cfg, h
	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
	return true, nil
}

// Decode strictly decodes JSON, or YAML when path ends in .yaml/.yml.
// Unknown keys and trailing documents are errors.
func Decode(path string, b []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == nil:
		return nil, errors.New("invalid config: trailing data")
	case !errors.Is(err, io.EOF):
		return nil, err
	}
	return &cfg, nil
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
