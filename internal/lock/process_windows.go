//go:build windows

package lock

import "os"

func processAlive(pid int) (alive, known bool) {
	if pid <= 0 {
		return false, true
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false, true
	}
	_ = p.Release()
	return true, true
}
