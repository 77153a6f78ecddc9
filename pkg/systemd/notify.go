// Package systemd talks to the service manager: readiness and watchdog
// notifications over $NOTIFY_SOCKET, and unit state lookups over D-Bus.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "punchclock/pkg/logx"
)

// Notifier sends sd_notify messages. The zero value is disabled.
type Notifier struct {
	Enabled bool
	Log     logx.Logger
}

func (n Notifier) send(state string) {
	if !n.Enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.Log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if !sent {
		n.Log.Debug("sd_notify unsupported (NOTIFY_SOCKET unset)", logx.String("state", state))
	}
}

func (n Notifier) Ready()               { n.send(daemon.SdNotifyReady) }
func (n Notifier) Stopping()            { n.send(daemon.SdNotifyStopping) }
func (n Notifier) Status(status string) { n.send("STATUS=" + status) }

// WatchdogInterval returns half the configured watchdog timeout, or 0 when the
// watchdog is disabled for this process.
func (n Notifier) WatchdogInterval() time.Duration {
	if !n.Enabled {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// Watchdog pings WATCHDOG=1 every interval while healthy reports true. It
// returns when ctx is done and is a no-op when the watchdog is disabled.
func (n Notifier) Watchdog(ctx context.Context, healthy func() bool) {
	every := n.WatchdogInterval()
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				n.Log.Warn("watchdog ping withheld; engine unhealthy")
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
