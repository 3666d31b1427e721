package datalog_test

import (
	"testing"

	"github.com/gavinwade12/pcmLogger/datalog"
)

func TestOSPriority(t *testing.T) {
	// without privileges the raise fails and is only logged
	p := datalog.OSPriority(nil)
	for i := 0; i < 3; i++ {
		restore := p.Raise()
		restore()
	}
}
