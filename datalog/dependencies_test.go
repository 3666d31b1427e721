package datalog_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/gavinwade12/pcmLogger/datalog"
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/gavinwade12/pcmLogger/units"
)

func derivedParam(id string, x, y *vpw.Parameter) *vpw.Parameter {
	return &vpw.Parameter{
		ID:      id,
		Name:    "Derived " + id,
		Kind:    vpw.KindDerived,
		Unit:    units.Raw,
		X:       vpw.Dependency{Parameter: x, Conversion: vpw.Conversion{Units: units.Raw}},
		Y:       vpw.Dependency{Parameter: y, Conversion: vpw.Conversion{Units: units.Raw}},
		Combine: func(x, y float64) float64 { return x + y },
	}
}

func columnIDs(cols []vpw.LogColumn) []string {
	ids := make([]string, len(cols))
	for i, c := range cols {
		ids[i] = c.Parameter.ID
	}
	return ids
}

func TestResolve(t *testing.T) {
	p10 := rawParam("10", 2)
	p20 := rawParam("20", 1)
	p30 := rawParam("30", 1)
	sum := derivedParam("sum", p10, p20)

	t.Run("SynthesizesMissingInputs", func(t *testing.T) {
		raw, math, err := datalog.Resolve([]vpw.LogColumn{vpw.NewLogColumn(p30), vpw.NewLogColumn(sum)})
		if err != nil {
			t.Fatal(err)
		}
		if got := columnIDs(raw); !reflect.DeepEqual(got, []string{"30", "10", "20"}) {
			t.Fatalf("unexpected raw columns %v", got)
		}
		if len(math) != 1 || math[0].X.Parameter != p10 || math[0].Y.Parameter != p20 {
			t.Fatalf("unexpected dependencies %+v", math)
		}
	})

	t.Run("ReusesRequestedInputs", func(t *testing.T) {
		requested := vpw.LogColumn{Parameter: p10, Conversion: vpw.Conversion{Units: units.Raw, Decimals: 3}}
		raw, math, err := datalog.Resolve([]vpw.LogColumn{vpw.NewLogColumn(sum), requested})
		if err != nil {
			t.Fatal(err)
		}
		if got := columnIDs(raw); !reflect.DeepEqual(got, []string{"10", "20"}) {
			t.Fatalf("unexpected raw columns %v", got)
		}
		if math[0].X.Conversion.Decimals != 3 {
			t.Fatalf("expected the requested column to be reused but got %+v", math[0].X)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		cols := []vpw.LogColumn{vpw.NewLogColumn(p30), vpw.NewLogColumn(sum)}
		raw, _, err := datalog.Resolve(cols)
		if err != nil {
			t.Fatal(err)
		}
		again, _, err := datalog.Resolve(append(raw, vpw.NewLogColumn(sum)))
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(columnIDs(raw), columnIDs(again)) {
			t.Fatalf("expected %v but got %v", columnIDs(raw), columnIDs(again))
		}
	})

	chained := derivedParam("chained", sum, p30)
	noFormula := derivedParam("none", p10, p20)
	noFormula.Combine = nil
	badUnits := derivedParam("units", p10, p20)
	badUnits.X.Conversion.Units = units.PSI

	tests := []struct {
		name    string
		columns []vpw.LogColumn
	}{
		{"Chained", []vpw.LogColumn{vpw.NewLogColumn(chained)}},
		{"Duplicate", []vpw.LogColumn{vpw.NewLogColumn(p10), vpw.NewLogColumn(p10)}},
		{"NoFormula", []vpw.LogColumn{vpw.NewLogColumn(noFormula)}},
		{"Units", []vpw.LogColumn{vpw.NewLogColumn(badUnits)}},
		{"NilParameter", []vpw.LogColumn{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := datalog.Resolve(tt.columns)
			if !errors.Is(err, datalog.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration but got %v", err)
			}
		})
	}
}
