//go:build !linux

package systemd

import (
	"context"
)

func UnitStatus(context.Context, string) (*Status, error) { return nil, ErrUnsupported }
