package datalog_test

import (
	"reflect"
	"testing"

	"github.com/gavinwade12/pcmLogger/datalog"
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/gavinwade12/pcmLogger/units"
)

func testRowConfiguration(t *testing.T) vpw.DpidConfiguration {
	t.Helper()
	cfg, err := datalog.Allocate([]vpw.LogColumn{
		vpw.NewLogColumn(vpw.EngineSpeed),
		vpw.NewLogColumn(vpw.MassAirFlow),
		vpw.NewLogColumn(vpw.ManifoldPressure),
		{Parameter: vpw.CoolantTemp, Conversion: vpw.Conversion{Units: units.F, Decimals: 0}},
		vpw.NewLogColumn(vpw.BarometricPressure),
		vpw.NewLogColumn(vpw.ThrottlePosition),
		vpw.NewLogColumn(vpw.VehicleSpeed),
	}, vpw.MaxBytes)
	if err != nil {
		t.Fatal(err)
	}
	// FE: RPM, MAF, MAP, ECT  FD: baro, TPS, VSS
	if len(cfg.ParameterGroups) != 2 {
		t.Fatalf("unexpected configuration %+v", cfg)
	}
	return cfg
}

func TestLogRowParser_IsComplete(t *testing.T) {
	cfg := testRowConfiguration(t)
	row := datalog.NewLogRowParser(cfg)

	if row.IsComplete() {
		t.Fatal("empty row is complete")
	}
	for i := 0; i < 3; i++ {
		if !row.ParseData(vpw.RawLogData{Dpid: 0xFE, Payload: make([]byte, 6)}) {
			t.Fatal("expected the frame to be accepted")
		}
		if row.IsComplete() {
			t.Fatalf("row complete after %d frames of one group", i+1)
		}
	}
	if row.ParseData(vpw.RawLogData{Dpid: 0x10, Payload: []byte{1}}) {
		t.Fatal("expected an unknown group to be ignored")
	}
	if row.IsComplete() {
		t.Fatal("row complete after an unknown group")
	}
	if _, err := row.Evaluate(); err == nil {
		t.Fatal("expected an incomplete row to fail evaluation")
	}

	row.ParseData(vpw.RawLogData{Dpid: 0xFD, Payload: make([]byte, 3)})
	if !row.IsComplete() {
		t.Fatal("expected the row to be complete")
	}
}

func TestLogRowParser_Evaluate(t *testing.T) {
	cfg := testRowConfiguration(t)
	row := datalog.NewLogRowParser(cfg)

	row.ParseData(vpw.RawLogData{Dpid: 0xFE, Payload: []byte{0, 0, 0, 0, 0, 0}})
	// the later frame replaces the first one
	row.ParseData(vpw.RawLogData{Dpid: 0xFE, Payload: []byte{0x0B, 0xB8, 0x04, 0xB0, 0x64, 0x82}})
	row.ParseData(vpw.RawLogData{Dpid: 0xFD, Payload: []byte{0x62, 0xFF, 0x58}})

	values, err := row.Evaluate()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"750.00", "12.00", "100.00", "194", "98.00", "100.00", "88.00"}
	if got := values.Strings(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v but got %v", want, got)
	}

	v, ok := values.Get(vpw.EngineSpeed.ID)
	if !ok || v.Value != 750 {
		t.Fatalf("unexpected engine speed %+v", v)
	}
}

func TestLogRowParser_ShortPayload(t *testing.T) {
	cfg := testRowConfiguration(t)
	row := datalog.NewLogRowParser(cfg)
	row.ParseData(vpw.RawLogData{Dpid: 0xFE, Payload: []byte{0x0B, 0xB8}})
	row.ParseData(vpw.RawLogData{Dpid: 0xFD, Payload: []byte{0x62, 0xFF, 0x58}})
	if _, err := row.Evaluate(); err == nil {
		t.Fatal("expected a short payload to fail")
	}
}

func TestMathValueProcessor(t *testing.T) {
	raw, mathColumns, err := datalog.Resolve([]vpw.LogColumn{
		{Parameter: vpw.Boost, Conversion: vpw.Conversion{Units: units.PSI, Decimals: 1}},
		vpw.NewLogColumn(vpw.AirflowPerRev),
		{Parameter: vpw.ManifoldPressure, Conversion: vpw.Conversion{Units: units.PSI, Decimals: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := datalog.Allocate(raw, vpw.MaxBytes)
	if err != nil {
		t.Fatal(err)
	}

	// MAP is logged in psi but boost is computed in kPa
	values := datalog.PcmParameterValues{}
	for _, col := range cfg.LogColumns() {
		var v float64
		switch col.Parameter {
		case vpw.ManifoldPressure:
			v = 200 * 0.145038
		case vpw.BarometricPressure:
			v = 100
		case vpw.MassAirFlow:
			v = 12
		case vpw.EngineSpeed:
			v = 720
		}
		values = append(values, datalog.ParameterValue{Column: col, Value: v})
	}

	m := datalog.NewMathValueProcessor(mathColumns)
	if got := m.HeaderNames(); !reflect.DeepEqual(got, []string{"Boost (psi)", "Airflow per Revolution (g/rev)"}) {
		t.Fatalf("unexpected headers %v", got)
	}
	derived, err := m.MathValues(values)
	if err != nil {
		t.Fatal(err)
	}
	if got := derived.Strings(); !reflect.DeepEqual(got, []string{"14.5", "1.00"}) {
		t.Fatalf("unexpected derived values %v", got)
	}

	if _, err = m.MathValues(values[:1]); err == nil {
		t.Fatal("expected missing inputs to fail")
	}
}
