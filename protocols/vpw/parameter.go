// Package vpw talks to GM powertrain control modules over J1850 VPW. It
// holds the logging data model (parameters, columns, DPID groups) and the
// Vehicle session that configures, requests and reads DPIDs.
package vpw

import (
	"strconv"

	"github.com/gavinwade12/pcmLogger/units"
	"github.com/pkg/errors"
)

// Kind separates values read from the PCM from values computed on the host.
type Kind int

const (
	KindRaw Kind = iota
	KindDerived
)

func (k Kind) String() string {
	if k == KindDerived {
		return "derived"
	}
	return "raw"
}

// DefineBy tells the PCM how to locate a DPID column's bytes.
type DefineBy byte

const (
	DefineByOffset      DefineBy = 0
	DefineByPID         DefineBy = 1
	DefineByProprietary DefineBy = 2
	DefineByAddress     DefineBy = 3
)

// Parameter is a value that can be logged. Raw parameters are read from
// the PCM by PID or RAM address; derived parameters combine two raw ones.
type Parameter struct {
	ID   string
	Name string
	Kind Kind
	// Unit is the unit Decode or Combine produce.
	Unit units.Unit

	// Raw parameters.
	DefineBy  DefineBy
	PID       uint16
	Addresses map[uint32]uint32 // RAM address by operating system id
	ByteCount int
	Decode    func(raw float64) float64

	// Derived parameters.
	X, Y    Dependency
	Combine func(x, y float64) float64
}

// Dependency is one input of a derived parameter and the units it is
// evaluated in.
type Dependency struct {
	Parameter  *Parameter
	Conversion Conversion
}

// Address returns the RAM address of p for the operating system.
func (p *Parameter) Address(osid uint32) (uint32, bool) {
	a, ok := p.Addresses[osid]
	return a, ok
}

// Conversion turns a value in the parameter's own unit into the unit the
// operator asked for, formatted with a fixed number of decimals.
type Conversion struct {
	Units    units.Unit
	Decimals int
}

// LogColumn is one requested output: a parameter and how to present it.
type LogColumn struct {
	Parameter  *Parameter
	Conversion Conversion
}

// NewLogColumn returns a column in the parameter's own unit.
func NewLogColumn(p *Parameter) LogColumn {
	return LogColumn{Parameter: p, Conversion: Conversion{Units: p.Unit, Decimals: 2}}
}

// Name is the header used for the column.
func (c LogColumn) Name() string {
	return c.Parameter.Name + " (" + string(c.units()) + ")"
}

func (c LogColumn) units() units.Unit {
	if c.Conversion.Units == "" {
		return c.Parameter.Unit
	}
	return c.Conversion.Units
}

// Value decodes raw big-endian bytes of a raw column into its units.
func (c LogColumn) Value(raw []byte) (float64, error) {
	p := c.Parameter
	if p.Kind != KindRaw {
		return 0, errors.Errorf("%s is not a raw parameter", p.ID)
	}
	if len(raw) != p.ByteCount {
		return 0, errors.Errorf("%s expects %d bytes but got %d", p.ID, p.ByteCount, len(raw))
	}

	var n uint32
	for _, b := range raw {
		n = n<<8 | uint32(b)
	}
	v := float64(n)
	if p.Decode != nil {
		v = p.Decode(v)
	}
	return c.convert(v)
}

// Combine evaluates a derived column from its already converted inputs.
func (c LogColumn) Combine(x, y float64) (float64, error) {
	p := c.Parameter
	if p.Kind != KindDerived || p.Combine == nil {
		return 0, errors.Errorf("%s is not a derived parameter", p.ID)
	}
	return c.convert(p.Combine(x, y))
}

func (c LogColumn) convert(v float64) (float64, error) {
	v, err := units.Convert(v, c.Parameter.Unit, c.units())
	if err != nil {
		return 0, errors.Wrapf(err, "converting %s from %s to %s", c.Parameter.ID, c.Parameter.Unit, c.units())
	}
	return v, nil
}

// Format renders v with the column's decimals.
func (c LogColumn) Format(v float64) string {
	return strconv.FormatFloat(v, 'f', c.Conversion.Decimals, 64)
}

// MaxBytes is the payload capacity of one DPID frame.
const MaxBytes = 6

// ParameterGroup is the set of columns packed into one DPID.
type ParameterGroup struct {
	ID         byte
	LogColumns []LogColumn
	TotalBytes int
}

// DpidConfiguration is the ordered set of groups for a session.
type DpidConfiguration struct {
	ParameterGroups []ParameterGroup
}

// GroupIDs returns the group ids in configuration order.
func (c DpidConfiguration) GroupIDs() []byte {
	ids := make([]byte, len(c.ParameterGroups))
	for i, g := range c.ParameterGroups {
		ids[i] = g.ID
	}
	return ids
}

// LogColumns returns every column, group by group.
func (c DpidConfiguration) LogColumns() []LogColumn {
	var cols []LogColumn
	for _, g := range c.ParameterGroups {
		cols = append(cols, g.LogColumns...)
	}
	return cols
}

// ParameterNames returns the header of every column in configuration order.
func (c DpidConfiguration) ParameterNames() []string {
	var names []string
	for _, col := range c.LogColumns() {
		names = append(names, col.Name())
	}
	return names
}

// RawLogData is one DPID frame payload.
type RawLogData struct {
	Dpid    byte
	Payload []byte
}
