//go:build linux

package datalog

import (
	"runtime"

	"golang.org/x/sys/unix"
)

const (
	highestNice = -20
	normalNice  = 0
)

func (p osPriority) Raise() func() {
	runtime.LockOSThread()
	tid := unix.Gettid()
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, highestNice); err != nil {
		p.logger.Debugf("raising thread priority: %v", err)
	}

	return func() {
		if err := unix.Setpriority(unix.PRIO_PROCESS, tid, normalNice); err != nil {
			p.logger.Debugf("restoring thread priority: %v", err)
		}
		runtime.UnlockOSThread()
	}
}
