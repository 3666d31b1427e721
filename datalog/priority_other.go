//go:build !linux

package datalog

import "runtime"

func (p osPriority) Raise() func() {
	runtime.LockOSThread()
	return runtime.UnlockOSThread
}
