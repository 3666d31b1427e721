package datalog

import (
	"fmt"
	"time"

	"github.com/gavinwade12/pcmLogger/diag"
	"github.com/gavinwade12/pcmLogger/protocols/j2534"
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/pkg/errors"
)

var (
	// ErrRowSkipped means one GetNextRow produced no row. Logging can go on.
	ErrRowSkipped = errors.New("row skipped")
	// ErrSessionFailed means the controller can no longer log.
	ErrSessionFailed = errors.New("logging session failed")
	// ErrNotLogging is returned by GetNextRow before StartLogging succeeded.
	ErrNotLogging = errors.New("logging has not started")

	errNoData = errors.New("no data from the PCM")
)

// sessionError reports err as kind while keeping err in the chain, so
// callers can match both ErrRowSkipped and the transport error behind it.
type sessionError struct {
	kind error
	err  error
}

func (e *sessionError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *sessionError) Is(target error) bool {
	return target == e.kind
}

func (e *sessionError) Unwrap() error {
	return e.err
}

func skipped(err error) error {
	return &sessionError{kind: ErrRowSkipped, err: err}
}

// Vehicle is the PCM session the controller drives. *vpw.Vehicle is one.
type Vehicle interface {
	ConfigureDpids(cfg vpw.DpidConfiguration, osid uint32) ([]byte, error)
	SetDeviceTimeout(timeout time.Duration)
	RequestDpids(dpids []byte, rate vpw.Rate) error
	SendToolPresentNotification() error
	ReadLogData() (vpw.RawLogData, bool, error)
}

// Mode selects how rows are obtained.
type Mode int

const (
	// Active requests every row explicitly.
	Active Mode = iota
	// Passive asks the PCM to stream once and keeps it alive with tool
	// present notifications.
	Passive
)

func (m Mode) String() string {
	if m == Passive {
		return "passive"
	}
	return "active"
}

// State is the controller lifecycle.
type State int

const (
	StateCreated State = iota
	StateLogging
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLogging:
		return "logging"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TimeoutBudget is the device read bound for a row of the given number of
// groups.
func TimeoutBudget(groups int) time.Duration {
	return 50*time.Millisecond + time.Duration(groups)*25*time.Millisecond
}

// Options tune a Controller. The zero value logs in active mode with
// vpw.MaxBytes groups at raised OS priority.
type Options struct {
	Mode Mode
	// MaxBytes is the group capacity; zero means vpw.MaxBytes, which is
	// also the largest allowed.
	MaxBytes int
	// StreamRate is the passive mode request rate; zero means vpw.RateStreamFast.
	StreamRate vpw.Rate
	// Priority raises thread priority in active mode; nil means OSPriority.
	Priority Priority
	Logger   diag.Logger
}

// Controller turns a column list into a DPID configuration and reads rows
// from the vehicle. It holds no lock; StartLogging and GetNextRow must not
// be called concurrently.
type Controller struct {
	vehicle  Vehicle
	osid     uint32
	mode     Mode
	rate     vpw.Rate
	priority Priority
	logger   diag.Logger

	cfg  vpw.DpidConfiguration
	math *MathValueProcessor

	dpids       []byte
	state       State
	lastRequest time.Time
}

// New resolves and packs columns. Any error wraps ErrConfiguration and no
// controller is returned.
func New(v Vehicle, osid uint32, columns []vpw.LogColumn, opts Options) (*Controller, error) {
	if v == nil {
		return nil, errors.Wrap(ErrConfiguration, "no vehicle")
	}
	maxBytes := opts.MaxBytes
	if maxBytes == 0 {
		maxBytes = vpw.MaxBytes
	}
	if maxBytes > vpw.MaxBytes {
		return nil, errors.Wrapf(ErrConfiguration, "group capacity %d exceeds the %d byte DPID payload", maxBytes, vpw.MaxBytes)
	}

	raw, mathColumns, err := Resolve(columns)
	if err != nil {
		return nil, err
	}
	cfg, err := Allocate(raw, maxBytes)
	if err != nil {
		return nil, err
	}
	if len(cfg.ParameterGroups) == 0 {
		return nil, errors.Wrap(ErrConfiguration, "no columns to log")
	}

	c := &Controller{
		vehicle:  v,
		osid:     osid,
		mode:     opts.Mode,
		rate:     opts.StreamRate,
		priority: opts.Priority,
		logger:   diag.OrNop(opts.Logger),
		cfg:      cfg,
		math:     NewMathValueProcessor(mathColumns),
	}
	if c.rate == 0 {
		c.rate = vpw.RateStreamFast
	}
	if c.priority == nil {
		c.priority = OSPriority(c.logger)
	}
	for _, g := range cfg.ParameterGroups {
		c.logger.Debugf("DPID %02X: %d columns, %d bytes", g.ID, len(g.LogColumns), g.TotalBytes)
	}
	return c, nil
}

// Configuration returns the packed groups.
func (c *Controller) Configuration() vpw.DpidConfiguration {
	return c.cfg
}

// Mode returns the mode chosen at construction.
func (c *Controller) Mode() Mode {
	return c.mode
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// ColumnNames returns the row header: raw columns in configuration order
// followed by derived columns in declared order.
func (c *Controller) ColumnNames() []string {
	return append(c.cfg.ParameterNames(), c.math.HeaderNames()...)
}

// StartLogging configures the DPIDs on the vehicle and sets the device
// timeout for the number of groups. In passive mode it also starts the
// stream. Any failure leaves the controller failed.
func (c *Controller) StartLogging() error {
	dpids, err := c.vehicle.ConfigureDpids(c.cfg, c.osid)
	if err != nil {
		return c.fail(errors.Wrap(err, "configuring DPIDs"))
	}
	c.dpids = dpids

	c.vehicle.SetDeviceTimeout(TimeoutBudget(len(c.cfg.ParameterGroups)))

	if c.mode == Passive {
		if err = c.vehicle.RequestDpids(c.dpids, c.rate); err != nil {
			return c.fail(errors.Wrap(err, "starting DPID stream"))
		}
		c.lastRequest = time.Now()
	}

	c.state = StateLogging
	c.logger.Debugf("logging %d DPIDs in %s mode", len(c.dpids), c.mode)
	return nil
}

func (c *Controller) fail(err error) error {
	c.state = StateFailed
	c.logger.Debug(err.Error())
	return &sessionError{kind: ErrSessionFailed, err: err}
}

// GetNextRow reads one row and formats it: raw values in configuration
// order, then derived values.
func (c *Controller) GetNextRow() ([]string, error) {
	values, err := c.GetNextValues()
	if err != nil {
		return nil, err
	}
	return values.Strings(), nil
}

// GetNextValues reads one row. A row that could not be read returns
// ErrRowSkipped; a disconnected device returns ErrSessionFailed.
func (c *Controller) GetNextValues() (PcmParameterValues, error) {
	switch c.state {
	case StateFailed:
		return nil, ErrSessionFailed
	case StateCreated:
		return nil, ErrNotLogging
	}

	row := NewLogRowParser(c.cfg)
	if err := c.readRow(row); err != nil {
		if j2534.IsDisconnected(err) {
			return nil, c.fail(err)
		}
		c.logger.Debugf("skipping row: %v", err)
		return nil, skipped(err)
	}

	raw, err := row.Evaluate()
	if err != nil {
		return nil, skipped(err)
	}
	derived, err := c.math.MathValues(raw)
	if err != nil {
		return nil, skipped(err)
	}
	return append(raw, derived...), nil
}

func (c *Controller) readRow(row *LogRowParser) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("reading row: %v", r)
		}
	}()

	if c.mode == Passive {
		c.logger.Debugf("tool present, streaming for %s", time.Since(c.lastRequest).Round(time.Millisecond))
		if err = c.vehicle.SendToolPresentNotification(); err != nil {
			return err
		}
	} else {
		restore := c.priority.Raise()
		defer restore()

		if err = c.vehicle.RequestDpids(c.dpids, vpw.RateSingleRow); err != nil {
			return err
		}
	}

	for !row.IsComplete() {
		data, ok, err := c.vehicle.ReadLogData()
		if err != nil {
			return err
		}
		if !ok {
			return errNoData
		}
		if !row.ParseData(data) {
			c.logger.Debugf("ignoring frame for unknown DPID %02X", data.Dpid)
		}
	}
	return nil
}
