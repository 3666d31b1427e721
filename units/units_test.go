package units_test

import (
	"errors"
	"math"
	"testing"

	"github.com/gavinwade12/pcmLogger/units"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		from    units.Unit
		to      units.Unit
		want    float64
		wantErr error
	}{
		{"Same unit", 10, units.AFR, units.AFR, 10, nil},
		{"Celsius to Fahrenheit", 100, units.C, units.F, 212, nil},
		{"Fahrenheit to Celsius", 32, units.F, units.C, 0, nil},
		{"kPa to bar", 250, units.KPA, units.BAR, 2.5, nil},
		{"mph to km/h", 60, units.MPH, units.KMH, 96.56064, nil},
		{"AFR to lambda", 14.7, units.AFR, units.Lambda, 1, nil},
		{"Invalid conversion", 1, units.RPM, units.PSI, 0, units.ErrInvalidConversion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := units.Convert(tt.value, tt.from, tt.to)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("unexpected error. want: %v. got: %v.", tt.wantErr, err)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Convert() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanConvert(t *testing.T) {
	if !units.CanConvert(units.KPA, units.PSI) {
		t.Error("expected kPa -> psi to be convertible")
	}
	if !units.CanConvert(units.RPM, units.RPM) {
		t.Error("expected a unit to convert to itself")
	}
	if units.CanConvert(units.Volts, units.C) {
		t.Error("did not expect V -> C to be convertible")
	}
}
