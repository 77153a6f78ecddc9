// Package transport defines the outbound channel used to reach operators.
package transport

import (
	"context"
	"strings"

	logx "punchclock/pkg/logx"
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// Notification is one operator message.
type Notification struct {
	Channel  string // "telegram" or "log"
	Priority int    // 0 low .. 10 high
	Target   ChatTarget
	Text     string
	// Key identifies repeats for deduplication; empty means the text itself.
	Key string
}

// Sender delivers text to an operator channel.
type Sender interface {
	Name() string
	SendText(ctx context.Context, to ChatTarget, text string) error
}

// LogSender writes notifications to the log. It is the fallback when no
// messaging channel is configured.
type LogSender struct {
	Log logx.Logger
}

func (LogSender) Name() string { return "log" }

func (s LogSender) SendText(_ context.Context, _ ChatTarget, text string) error {
	s.Log.Warn("operator notification", logx.String("text", strings.TrimSpace(text)))
	return nil
}
