package vpw

import (
	"sort"

	"github.com/gavinwade12/pcmLogger/units"
)

// Operating systems with known RAM addresses.
const (
	OSID12202088 uint32 = 12202088
	OSID12587603 uint32 = 12587603
	OSID12593358 uint32 = 12593358
)

// Raw parameters read by PID or RAM address.
var (
	EngineLoad = &Parameter{
		ID: "P04", Name: "Engine Load", Kind: KindRaw, Unit: units.Percent,
		DefineBy: DefineByPID, PID: 0x0004, ByteCount: 1,
		Decode: func(v float64) float64 { return v * 100 / 255 },
	}
	CoolantTemp = &Parameter{
		ID: "P05", Name: "Engine Coolant Temperature", Kind: KindRaw, Unit: units.C,
		DefineBy: DefineByPID, PID: 0x0005, ByteCount: 1,
		Decode: func(v float64) float64 { return v - 40 },
	}
	ShortTermTrim = &Parameter{
		ID: "P06", Name: "Short Term Fuel Trim", Kind: KindRaw, Unit: units.Percent,
		DefineBy: DefineByPID, PID: 0x0006, ByteCount: 1,
		Decode: func(v float64) float64 { return (v - 128) * 100 / 128 },
	}
	LongTermTrim = &Parameter{
		ID: "P07", Name: "Long Term Fuel Trim", Kind: KindRaw, Unit: units.Percent,
		DefineBy: DefineByPID, PID: 0x0007, ByteCount: 1,
		Decode: func(v float64) float64 { return (v - 128) * 100 / 128 },
	}
	ManifoldPressure = &Parameter{
		ID: "P0B", Name: "Manifold Absolute Pressure", Kind: KindRaw, Unit: units.KPA,
		DefineBy: DefineByPID, PID: 0x000B, ByteCount: 1,
	}
	EngineSpeed = &Parameter{
		ID: "P0C", Name: "Engine Speed", Kind: KindRaw, Unit: units.RPM,
		DefineBy: DefineByPID, PID: 0x000C, ByteCount: 2,
		Decode: func(v float64) float64 { return v / 4 },
	}
	VehicleSpeed = &Parameter{
		ID: "P0D", Name: "Vehicle Speed", Kind: KindRaw, Unit: units.KMH,
		DefineBy: DefineByPID, PID: 0x000D, ByteCount: 1,
	}
	SparkAdvance = &Parameter{
		ID: "P0E", Name: "Spark Advance", Kind: KindRaw, Unit: units.Degrees,
		DefineBy: DefineByPID, PID: 0x000E, ByteCount: 1,
		Decode: func(v float64) float64 { return v/2 - 64 },
	}
	IntakeAirTemp = &Parameter{
		ID: "P0F", Name: "Intake Air Temperature", Kind: KindRaw, Unit: units.C,
		DefineBy: DefineByPID, PID: 0x000F, ByteCount: 1,
		Decode: func(v float64) float64 { return v - 40 },
	}
	MassAirFlow = &Parameter{
		ID: "P10", Name: "Mass Air Flow", Kind: KindRaw, Unit: units.GS,
		DefineBy: DefineByPID, PID: 0x0010, ByteCount: 2,
		Decode: func(v float64) float64 { return v / 100 },
	}
	ThrottlePosition = &Parameter{
		ID: "P11", Name: "Throttle Position", Kind: KindRaw, Unit: units.Percent,
		DefineBy: DefineByPID, PID: 0x0011, ByteCount: 1,
		Decode: func(v float64) float64 { return v * 100 / 255 },
	}
	BarometricPressure = &Parameter{
		ID: "P33", Name: "Barometric Pressure", Kind: KindRaw, Unit: units.KPA,
		DefineBy: DefineByPID, PID: 0x0033, ByteCount: 1,
	}
	ModuleVoltage = &Parameter{
		ID: "P1141", Name: "Ignition Voltage", Kind: KindRaw, Unit: units.Volts,
		DefineBy: DefineByPID, PID: 0x1141, ByteCount: 1,
		Decode: func(v float64) float64 { return v / 10 },
	}
	KnockRetard = &Parameter{
		ID: "R_KR", Name: "Knock Retard", Kind: KindRaw, Unit: units.Degrees,
		DefineBy: DefineByAddress, ByteCount: 1,
		Addresses: map[uint32]uint32{
			OSID12202088: 0xFF8D36,
			OSID12587603: 0xFF8D3E,
			OSID12593358: 0xFF8D3E,
		},
		Decode: func(v float64) float64 { return v * 22.5 / 256 },
	}
	TargetAFR = &Parameter{
		ID: "R_AFR", Name: "Commanded AFR", Kind: KindRaw, Unit: units.AFR,
		DefineBy: DefineByAddress, ByteCount: 2,
		Addresses: map[uint32]uint32{
			OSID12587603: 0xFF9B24,
			OSID12593358: 0xFF9B24,
		},
		Decode: func(v float64) float64 { return v / 10 },
	}
)

// Derived parameters.
var (
	AirflowPerRev = &Parameter{
		ID: "M_GREV", Name: "Airflow per Revolution", Kind: KindDerived, Unit: units.GramsPerRev,
		X: Dependency{MassAirFlow, Conversion{Units: units.GS, Decimals: 2}},
		Y: Dependency{EngineSpeed, Conversion{Units: units.RPM, Decimals: 0}},
		Combine: func(maf, rpm float64) float64 {
			if rpm == 0 {
				return 0
			}
			return maf * 60 / rpm
		},
	}
	Boost = &Parameter{
		ID: "M_BOOST", Name: "Boost", Kind: KindDerived, Unit: units.KPA,
		X: Dependency{ManifoldPressure, Conversion{Units: units.KPA}},
		Y: Dependency{BarometricPressure, Conversion{Units: units.KPA}},
		Combine: func(mp, baro float64) float64 { return mp - baro },
	}
	TotalTrim = &Parameter{
		ID: "M_TRIM", Name: "Total Fuel Trim", Kind: KindDerived, Unit: units.Percent,
		X: Dependency{ShortTermTrim, Conversion{Units: units.Percent, Decimals: 1}},
		Y: Dependency{LongTermTrim, Conversion{Units: units.Percent, Decimals: 1}},
		Combine: func(st, lt float64) float64 { return st + lt },
	}
)

// Parameters holds every known parameter by id.
var Parameters = catalog(
	EngineLoad, CoolantTemp, ShortTermTrim, LongTermTrim, ManifoldPressure,
	EngineSpeed, VehicleSpeed, SparkAdvance, IntakeAirTemp, MassAirFlow,
	ThrottlePosition, BarometricPressure, ModuleVoltage, KnockRetard, TargetAFR,
	AirflowPerRev, Boost, TotalTrim,
)

func catalog(ps ...*Parameter) map[string]*Parameter {
	m := make(map[string]*Parameter, len(ps))
	for _, p := range ps {
		m[p.ID] = p
	}
	return m
}

// ParameterIDs returns the ids of Parameters sorted.
func ParameterIDs() []string {
	ids := make([]string, 0, len(Parameters))
	for id := range Parameters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AvailableParameters returns the parameters usable with the operating
// system: every PID parameter, address parameters with a known address,
// and derived parameters whose inputs are available.
func AvailableParameters(osid uint32) map[string]*Parameter {
	available := make(map[string]*Parameter)
	usable := func(p *Parameter) bool {
		if p.DefineBy != DefineByAddress {
			return true
		}
		_, ok := p.Address(osid)
		return ok
	}
	for id, p := range Parameters {
		if p.Kind == KindRaw && usable(p) {
			available[id] = p
		}
	}
	for id, p := range Parameters {
		if p.Kind == KindDerived && usable(p.X.Parameter) && usable(p.Y.Parameter) {
			available[id] = p
		}
	}
	return available
}
