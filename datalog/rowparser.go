package datalog

import (
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/gavinwade12/pcmLogger/units"
	"github.com/pkg/errors"
)

// ParameterValue is one evaluated column.
type ParameterValue struct {
	Column vpw.LogColumn
	Value  float64
}

func (v ParameterValue) String() string {
	return v.Column.Format(v.Value)
}

// PcmParameterValues holds evaluated columns in configuration order.
type PcmParameterValues []ParameterValue

// Get returns the value of the parameter with the given id.
func (vs PcmParameterValues) Get(id string) (ParameterValue, bool) {
	for _, v := range vs {
		if v.Column.Parameter.ID == id {
			return v, true
		}
	}
	return ParameterValue{}, false
}

// Strings formats every value.
func (vs PcmParameterValues) Strings() []string {
	s := make([]string, len(vs))
	for i, v := range vs {
		s[i] = v.String()
	}
	return s
}

// LogRowParser collects the frames of one row. It is used for a single
// row and then discarded.
type LogRowParser struct {
	cfg  vpw.DpidConfiguration
	rows map[byte][]byte
}

// NewLogRowParser returns an empty row for cfg.
func NewLogRowParser(cfg vpw.DpidConfiguration) *LogRowParser {
	return &LogRowParser{cfg: cfg, rows: make(map[byte][]byte, len(cfg.ParameterGroups))}
}

// ParseData stores a frame. A later frame for the same group replaces the
// earlier one. Frames for unknown groups are ignored and reported false.
func (r *LogRowParser) ParseData(data vpw.RawLogData) bool {
	for _, g := range r.cfg.ParameterGroups {
		if g.ID == data.Dpid {
			r.rows[data.Dpid] = append([]byte(nil), data.Payload...)
			return true
		}
	}
	return false
}

// IsComplete reports whether every group has been received.
func (r *LogRowParser) IsComplete() bool {
	return len(r.rows) == len(r.cfg.ParameterGroups)
}

// Evaluate decodes every raw column of a complete row.
func (r *LogRowParser) Evaluate() (PcmParameterValues, error) {
	if !r.IsComplete() {
		return nil, errors.Errorf("row has %d of %d groups", len(r.rows), len(r.cfg.ParameterGroups))
	}

	values := make(PcmParameterValues, 0, len(r.cfg.ParameterGroups)*2)
	for _, g := range r.cfg.ParameterGroups {
		payload := r.rows[g.ID]
		offset := 0
		for _, col := range g.LogColumns {
			n := col.Parameter.ByteCount
			if offset+n > len(payload) {
				return nil, errors.Errorf("DPID %02X payload is %d bytes, %s needs %d at offset %d",
					g.ID, len(payload), col.Parameter.ID, n, offset)
			}
			v, err := col.Value(payload[offset : offset+n])
			if err != nil {
				return nil, err
			}
			values = append(values, ParameterValue{Column: col, Value: v})
			offset += n
		}
	}
	return values, nil
}

// MathValueProcessor evaluates derived columns from a row's raw values.
type MathValueProcessor struct {
	columns []MathColumn
}

// NewMathValueProcessor returns a processor for the resolved columns.
func NewMathValueProcessor(columns []MathColumn) *MathValueProcessor {
	return &MathValueProcessor{columns: columns}
}

// HeaderNames returns the derived column names in declared order.
func (m *MathValueProcessor) HeaderNames() []string {
	names := make([]string, len(m.columns))
	for i, c := range m.columns {
		names[i] = c.Column.Name()
	}
	return names
}

// MathValues evaluates every derived column. raw must hold every input.
func (m *MathValueProcessor) MathValues(raw PcmParameterValues) (PcmParameterValues, error) {
	values := make(PcmParameterValues, 0, len(m.columns))
	for _, c := range m.columns {
		p := c.Column.Parameter
		x, err := input(raw, c.X, p.X)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating %s", p.ID)
		}
		y, err := input(raw, c.Y, p.Y)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating %s", p.ID)
		}
		v, err := c.Column.Combine(x, y)
		if err != nil {
			return nil, err
		}
		values = append(values, ParameterValue{Column: c.Column, Value: v})
	}
	return values, nil
}

// input returns the logged value of col in the units dep expects.
func input(raw PcmParameterValues, col vpw.LogColumn, dep vpw.Dependency) (float64, error) {
	v, ok := raw.Get(col.Parameter.ID)
	if !ok {
		return 0, errors.Errorf("%s was not logged", col.Parameter.ID)
	}
	return units.Convert(v.Value, unitsOf(col), unitsOr(dep.Conversion.Units, dep.Parameter.Unit))
}
