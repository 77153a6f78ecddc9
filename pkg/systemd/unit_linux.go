//go:build linux

package systemd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// UnitStatus queries the system bus for unit (".service" is appended when the
// name has no suffix).
func UnitStatus(ctx context.Context, unit string) (*Status, error) {
	name := unitName(unit)
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{name})
	if err != nil {
		return nil, fmt.Errorf("status %s: %w", name, err)
	}
	st := &Status{Unit: name, Active: "unknown", LoadState: "not-found"}
	if len(units) == 0 {
		return st, nil
	}
	u := units[0]
	st.Active, st.SubState, st.LoadState, st.Description = u.ActiveState, u.SubState, u.LoadState, u.Description
	if st.LoadState == "not-found" {
		st.Active = "unknown"
		return st, nil
	}
	props, err := conn.GetUnitPropertiesContext(ctx, name)
	if err == nil {
		st.Since = timestamp(props, "StateChangeTimestamp")
		if pid, ok := props["MainPID"].(uint32); ok {
			st.MainPID = int(pid)
		}
	}
	return st, nil
}

func unitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}

func timestamp(props map[string]any, key string) time.Time {
	if v, ok := props[key].(uint64); ok && v > 0 {
		return time.UnixMicro(int64(v))
	}
	return time.Time{}
}
