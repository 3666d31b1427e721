package datalog_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gavinwade12/pcmLogger/datalog"
	"github.com/gavinwade12/pcmLogger/protocols/j2534"
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
)

type fakePriority struct {
	raised   bool
	raises   int
	restores int
}

func (p *fakePriority) Raise() func() {
	p.raised = true
	p.raises++
	return func() {
		p.raised = false
		p.restores++
	}
}

// fakeVehicle answers single row requests with one frame per group and
// streams groups round robin once a streaming request was made.
type fakeVehicle struct {
	priority *fakePriority

	configureErr error
	requestErr   error
	readErr      error
	// missAt makes the given read (1-based) return no frame.
	missAt int
	// panicAt makes the given read (1-based) panic.
	panicAt int

	cfg          vpw.DpidConfiguration
	timeout      time.Duration
	requests     []vpw.Rate
	toolPresents int
	queue        []vpw.RawLogData
	streaming    bool
	next         int
	reads        int
	raisedReads  int
}

func (v *fakeVehicle) ConfigureDpids(cfg vpw.DpidConfiguration, osid uint32) ([]byte, error) {
	if v.configureErr != nil {
		return nil, v.configureErr
	}
	v.cfg = cfg
	return cfg.GroupIDs(), nil
}

func (v *fakeVehicle) SetDeviceTimeout(timeout time.Duration) {
	v.timeout = timeout
}

func (v *fakeVehicle) frame(g vpw.ParameterGroup) vpw.RawLogData {
	return vpw.RawLogData{Dpid: g.ID, Payload: make([]byte, g.TotalBytes)}
}

func (v *fakeVehicle) RequestDpids(dpids []byte, rate vpw.Rate) error {
	v.requests = append(v.requests, rate)
	if v.requestErr != nil {
		return v.requestErr
	}
	if rate == vpw.RateSingleRow {
		for _, g := range v.cfg.ParameterGroups {
			v.queue = append(v.queue, v.frame(g))
		}
		return nil
	}
	v.streaming = true
	return nil
}

func (v *fakeVehicle) SendToolPresentNotification() error {
	v.toolPresents++
	return nil
}

func (v *fakeVehicle) ReadLogData() (vpw.RawLogData, bool, error) {
	v.reads++
	if v.priority != nil && v.priority.raised {
		v.raisedReads++
	}
	if v.panicAt == v.reads {
		panic("driver fault")
	}
	if v.readErr != nil {
		return vpw.RawLogData{}, false, v.readErr
	}
	if v.missAt == v.reads {
		return vpw.RawLogData{}, false, nil
	}
	if len(v.queue) > 0 {
		f := v.queue[0]
		v.queue = v.queue[1:]
		return f, true, nil
	}
	if v.streaming {
		g := v.cfg.ParameterGroups[v.next%len(v.cfg.ParameterGroups)]
		v.next++
		return v.frame(g), true, nil
	}
	return vpw.RawLogData{}, false, nil
}

func newTestController(t *testing.T, v *fakeVehicle, mode datalog.Mode, columns []vpw.LogColumn) *datalog.Controller {
	t.Helper()
	v.priority = &fakePriority{}
	c, err := datalog.New(v, vpw.OSID12593358, columns, datalog.Options{Mode: mode, Priority: v.priority})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// raw: RPM, MAF, ECT, TPS, VSS, IAT, baro (two groups); derived: airflow per rev, boost
// which adds MAP.
func testColumns() []vpw.LogColumn {
	return []vpw.LogColumn{
		vpw.NewLogColumn(vpw.EngineSpeed),
		vpw.NewLogColumn(vpw.AirflowPerRev),
		vpw.NewLogColumn(vpw.CoolantTemp),
		vpw.NewLogColumn(vpw.ThrottlePosition),
		vpw.NewLogColumn(vpw.Boost),
		vpw.NewLogColumn(vpw.VehicleSpeed),
		vpw.NewLogColumn(vpw.IntakeAirTemp),
	}
}

func TestNew(t *testing.T) {
	if _, err := datalog.New(&fakeVehicle{}, 0, nil, datalog.Options{}); !errors.Is(err, datalog.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for no columns but got %v", err)
	}
	if _, err := datalog.New(nil, 0, testColumns(), datalog.Options{}); !errors.Is(err, datalog.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for no vehicle but got %v", err)
	}
	wide := []vpw.LogColumn{vpw.NewLogColumn(vpw.EngineSpeed)}
	if _, err := datalog.New(&fakeVehicle{}, 0, wide, datalog.Options{MaxBytes: 1}); !errors.Is(err, datalog.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for an oversized column but got %v", err)
	}
	if _, err := datalog.New(&fakeVehicle{}, 0, rawColumns(2, 2, 2, 2, 2), datalog.Options{MaxBytes: 10}); !errors.Is(err, datalog.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for a capacity above a DPID payload but got %v", err)
	}

	c := newTestController(t, &fakeVehicle{}, datalog.Active, testColumns())
	if c.State() != datalog.StateCreated {
		t.Fatalf("expected created but got %s", c.State())
	}
	names := c.ColumnNames()
	if len(names) != 10 {
		t.Fatalf("expected 10 columns but got %v", names)
	}
	if names[8] != "Airflow per Revolution (g/rev)" || names[9] != "Boost (kPa)" {
		t.Fatalf("expected derived columns last in declared order but got %v", names)
	}
}

func TestTimeoutBudget(t *testing.T) {
	if d := datalog.TimeoutBudget(1); d != 75*time.Millisecond {
		t.Fatalf("expected 75ms but got %s", d)
	}
	if datalog.TimeoutBudget(4) <= datalog.TimeoutBudget(2) {
		t.Fatal("expected more groups to get more time")
	}
}

func TestController_Active(t *testing.T) {
	t.Run("RequestsEveryRow", func(t *testing.T) {
		v := &fakeVehicle{}
		c := newTestController(t, v, datalog.Active, testColumns())
		if err := c.StartLogging(); err != nil {
			t.Fatal(err)
		}
		if len(v.requests) != 0 {
			t.Fatalf("expected no request at start but got %v", v.requests)
		}
		groups := len(c.Configuration().ParameterGroups)
		if v.timeout != datalog.TimeoutBudget(groups) {
			t.Fatalf("expected timeout %s but got %s", datalog.TimeoutBudget(groups), v.timeout)
		}

		for i := 0; i < 5; i++ {
			row, err := c.GetNextRow()
			if err != nil {
				t.Fatal(err)
			}
			if len(row) != len(c.ColumnNames()) {
				t.Fatalf("expected %d values but got %d", len(c.ColumnNames()), len(row))
			}
		}
		if len(v.requests) != 5 || v.requests[0] != vpw.RateSingleRow {
			t.Fatalf("expected 5 single row requests but got %v", v.requests)
		}
		if v.toolPresents != 0 {
			t.Fatalf("expected no tool present but got %d", v.toolPresents)
		}
		if v.raisedReads != v.reads {
			t.Fatalf("expected every read at raised priority, %d of %d", v.raisedReads, v.reads)
		}
		if v.priority.raises != 5 || v.priority.restores != 5 || v.priority.raised {
			t.Fatalf("unbalanced priority %+v", v.priority)
		}
	})

	t.Run("MissingFrameSkipsRowAndRestoresPriority", func(t *testing.T) {
		v := &fakeVehicle{missAt: 2}
		c := newTestController(t, v, datalog.Active, testColumns())
		if err := c.StartLogging(); err != nil {
			t.Fatal(err)
		}

		row, err := c.GetNextRow()
		if !errors.Is(err, datalog.ErrRowSkipped) || row != nil {
			t.Fatalf("expected a skipped row but got %v, %v", row, err)
		}
		if v.priority.raised || v.priority.restores != 1 {
			t.Fatalf("expected priority restored but got %+v", v.priority)
		}
		if c.State() != datalog.StateLogging {
			t.Fatalf("expected logging but got %s", c.State())
		}

		v.queue = nil
		if _, err = c.GetNextRow(); err != nil {
			t.Fatalf("expected the next row to succeed but got %v", err)
		}
	})

	t.Run("FaultRestoresPriority", func(t *testing.T) {
		v := &fakeVehicle{panicAt: 1}
		c := newTestController(t, v, datalog.Active, testColumns())
		if err := c.StartLogging(); err != nil {
			t.Fatal(err)
		}
		if _, err := c.GetNextRow(); !errors.Is(err, datalog.ErrRowSkipped) {
			t.Fatalf("expected a skipped row but got %v", err)
		}
		if v.priority.raised || v.priority.restores != 1 {
			t.Fatalf("expected priority restored but got %+v", v.priority)
		}
	})

	t.Run("RequestFailureSkipsRow", func(t *testing.T) {
		v := &fakeVehicle{}
		c := newTestController(t, v, datalog.Active, testColumns())
		if err := c.StartLogging(); err != nil {
			t.Fatal(err)
		}
		v.requestErr = j2534.StatusTimeout
		_, err := c.GetNextRow()
		if !errors.Is(err, datalog.ErrRowSkipped) {
			t.Fatalf("expected a skipped row but got %v", err)
		}
		if !errors.Is(err, j2534.StatusTimeout) {
			t.Fatalf("expected the transport status to be kept but got %v", err)
		}
		if !strings.HasPrefix(err.Error(), "row skipped: ") {
			t.Fatalf("unexpected message %q", err.Error())
		}
		if v.priority.raised {
			t.Fatal("expected priority restored")
		}
	})
}

func TestController_Passive(t *testing.T) {
	v := &fakeVehicle{}
	c := newTestController(t, v, datalog.Passive, testColumns())
	if err := c.StartLogging(); err != nil {
		t.Fatal(err)
	}
	if len(v.requests) != 1 || v.requests[0] != vpw.RateStreamFast {
		t.Fatalf("expected exactly one streaming request but got %v", v.requests)
	}

	const rows = 8
	for i := 0; i < rows; i++ {
		values, err := c.GetNextValues()
		if err != nil {
			t.Fatal(err)
		}
		if len(values) != len(c.ColumnNames()) {
			t.Fatalf("expected %d values but got %d", len(c.ColumnNames()), len(values))
		}
	}
	if len(v.requests) != 1 {
		t.Fatalf("expected no further requests but got %v", v.requests)
	}
	if v.toolPresents != rows {
		t.Fatalf("expected %d tool present notifications but got %d", rows, v.toolPresents)
	}
	if v.priority.raises != 0 {
		t.Fatalf("expected no priority changes but got %+v", v.priority)
	}
}

func TestController_Failures(t *testing.T) {
	t.Run("NotStarted", func(t *testing.T) {
		c := newTestController(t, &fakeVehicle{}, datalog.Active, testColumns())
		if _, err := c.GetNextRow(); !errors.Is(err, datalog.ErrNotLogging) {
			t.Fatalf("expected ErrNotLogging but got %v", err)
		}
	})

	t.Run("ConfigureFailure", func(t *testing.T) {
		v := &fakeVehicle{configureErr: vpw.ErrRejected}
		c := newTestController(t, v, datalog.Passive, testColumns())
		if err := c.StartLogging(); !errors.Is(err, datalog.ErrSessionFailed) {
			t.Fatalf("expected ErrSessionFailed but got %v", err)
		}
		if c.State() != datalog.StateFailed {
			t.Fatalf("expected failed but got %s", c.State())
		}
		if len(v.requests) != 0 {
			t.Fatalf("expected no request but got %v", v.requests)
		}
	})

	t.Run("StreamRequestFailure", func(t *testing.T) {
		v := &fakeVehicle{requestErr: j2534.StatusFailed}
		c := newTestController(t, v, datalog.Passive, testColumns())
		if err := c.StartLogging(); !errors.Is(err, datalog.ErrSessionFailed) {
			t.Fatalf("expected ErrSessionFailed but got %v", err)
		}
	})

	t.Run("Disconnected", func(t *testing.T) {
		v := &fakeVehicle{}
		c := newTestController(t, v, datalog.Active, testColumns())
		if err := c.StartLogging(); err != nil {
			t.Fatal(err)
		}
		v.readErr = j2534.StatusDeviceNotConnected
		_, err := c.GetNextRow()
		if !errors.Is(err, datalog.ErrSessionFailed) {
			t.Fatalf("expected ErrSessionFailed but got %v", err)
		}
		if !errors.Is(err, j2534.StatusDeviceNotConnected) || errors.Is(err, datalog.ErrRowSkipped) {
			t.Fatalf("expected only the disconnect in the chain but got %v", err)
		}
		if c.State() != datalog.StateFailed {
			t.Fatalf("expected failed but got %s", c.State())
		}
		if v.priority.raised {
			t.Fatal("expected priority restored")
		}
		if _, err := c.GetNextRow(); !errors.Is(err, datalog.ErrSessionFailed) {
			t.Fatalf("expected the failure to stick but got %v", err)
		}
	})
}
