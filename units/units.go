package units

import "errors"

// Unit names the engineering unit a logged value is expressed in.
type Unit string

// The valid units.
const (
	// Velocity
	MPH Unit = "mph"
	KMH Unit = "km/h"

	// Rotational Speed
	RPM Unit = "rpm"

	// Timing
	Degrees Unit = "degrees"

	// Temperature
	F Unit = "F"
	C Unit = "C"

	// Pressure
	PSI Unit = "psi"
	BAR Unit = "bar"
	KPA Unit = "kPa"

	// Airflow
	GS       Unit = "g/s"
	LbPerMin Unit = "lb/min"

	// Fueling
	AFR    Unit = "AFR"
	Lambda Unit = "Lambda"

	// Electricity
	Volts Unit = "V"

	// Misc
	Percent     Unit = "%"
	GramsPerRev Unit = "g/rev"
	GramsPerCyl Unit = "g/cyl"
	Raw         Unit = "raw"
)

// ErrInvalidConversion is returned when no conversion exists between two units.
var ErrInvalidConversion = errors.New("units are invalid for conversion")

// Convert converts value from one unit to another. Converting a unit to
// itself always succeeds.
func Convert(value float64, from, to Unit) (float64, error) {
	if from == to {
		return value, nil
	}

	cv := conversions[from][to]
	if cv == nil {
		return 0, ErrInvalidConversion
	}

	return cv(value), nil
}

// CanConvert reports whether Convert(_, from, to) would succeed.
func CanConvert(from, to Unit) bool {
	return from == to || conversions[from][to] != nil
}

// stoichiometric ratio of gasoline, used for AFR <-> lambda
const stoich = 14.7

var conversions = map[Unit]map[Unit]func(v float64) float64{
	MPH: {
		KMH: func(v float64) float64 { return v * 1.609344 },
	},
	KMH: {
		MPH: func(v float64) float64 { return v / 1.609344 },
	},
	F: {
		C: func(v float64) float64 { return (v - 32) * 5 / 9 },
	},
	C: {
		F: func(v float64) float64 { return v*9/5 + 32 },
	},
	KPA: {
		PSI: func(v float64) float64 { return v * 0.145038 },
		BAR: func(v float64) float64 { return v / 100 },
	},
	PSI: {
		KPA: func(v float64) float64 { return v / 0.145038 },
		BAR: func(v float64) float64 { return v * 0.0689476 },
	},
	BAR: {
		KPA: func(v float64) float64 { return v * 100 },
		PSI: func(v float64) float64 { return v * 14.5038 },
	},
	GS: {
		LbPerMin: func(v float64) float64 { return v * 0.132277 },
	},
	LbPerMin: {
		GS: func(v float64) float64 { return v / 0.132277 },
	},
	AFR: {
		Lambda: func(v float64) float64 { return v / stoich },
	},
	Lambda: {
		AFR: func(v float64) float64 { return v * stoich },
	},
}
