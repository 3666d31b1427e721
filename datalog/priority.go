package datalog

import "github.com/gavinwade12/pcmLogger/diag"

// Priority raises the scheduling priority of the calling goroutine's
// thread. The returned func restores normal priority and must be called
// on every exit path, usually with defer.
type Priority interface {
	Raise() (restore func())
}

// OSPriority pins the goroutine to its thread and raises that thread's
// priority where the platform allows it. Failures are logged and logging
// continues at normal priority.
func OSPriority(l diag.Logger) Priority {
	return osPriority{logger: diag.OrNop(l)}
}

type osPriority struct {
	logger diag.Logger
}
