package datalog_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/gavinwade12/pcmLogger/datalog"
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/gavinwade12/pcmLogger/units"
)

func rawParam(id string, width int) *vpw.Parameter {
	return &vpw.Parameter{
		ID:        id,
		Name:      "Param " + id,
		Kind:      vpw.KindRaw,
		Unit:      units.Raw,
		DefineBy:  vpw.DefineByPID,
		ByteCount: width,
	}
}

func rawColumns(widths ...int) []vpw.LogColumn {
	cols := make([]vpw.LogColumn, len(widths))
	for i, w := range widths {
		cols[i] = vpw.NewLogColumn(rawParam(fmt.Sprintf("%d", i+1), w))
	}
	return cols
}

func groupIDs(cfg vpw.DpidConfiguration) []string {
	var ids []string
	for _, g := range cfg.ParameterGroups {
		var s string
		for _, c := range g.LogColumns {
			s += c.Parameter.ID + ","
		}
		ids = append(ids, fmt.Sprintf("%02X:%s%d", g.ID, s, g.TotalBytes))
	}
	return ids
}

func TestAllocate(t *testing.T) {
	t.Run("ThreeWideColumnsFillOneGroup", func(t *testing.T) {
		cfg, err := datalog.Allocate(rawColumns(2, 2, 2), 6)
		if err != nil {
			t.Fatal(err)
		}
		if len(cfg.ParameterGroups) != 1 {
			t.Fatalf("expected 1 group but got %v", groupIDs(cfg))
		}
		g := cfg.ParameterGroups[0]
		if g.ID != 0xFE || g.TotalBytes != 6 || len(g.LogColumns) != 3 {
			t.Fatalf("unexpected group %v", groupIDs(cfg))
		}
	})

	t.Run("FourthWideColumnOpensSecondGroup", func(t *testing.T) {
		cfg, err := datalog.Allocate(rawColumns(2, 2, 2, 2), 6)
		if err != nil {
			t.Fatal(err)
		}
		got := groupIDs(cfg)
		want := []string{"FE:1,2,3,6", "FD:4,2"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("expected %v but got %v", want, got)
		}
	})

	t.Run("WideColumnsFirst", func(t *testing.T) {
		cfg, err := datalog.Allocate(rawColumns(1, 2, 1, 2, 2, 1), 6)
		if err != nil {
			t.Fatal(err)
		}
		got := groupIDs(cfg)
		want := []string{"FE:2,4,5,6", "FD:1,3,6,3"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("expected %v but got %v", want, got)
		}
	})

	t.Run("SingleBytesFillLastWideGroup", func(t *testing.T) {
		cfg, err := datalog.Allocate(rawColumns(2, 1, 1), 6)
		if err != nil {
			t.Fatal(err)
		}
		got := groupIDs(cfg)
		want := []string{"FE:1,2,3,4"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("expected %v but got %v", want, got)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		cfg, err := datalog.Allocate(nil, 6)
		if err != nil {
			t.Fatal(err)
		}
		if len(cfg.ParameterGroups) != 0 {
			t.Fatalf("expected no groups but got %v", groupIDs(cfg))
		}
	})

	tests := []struct {
		name    string
		columns []vpw.LogColumn
		max     int
	}{
		{"TooWide", rawColumns(2, 4), 3},
		{"ZeroWidth", rawColumns(0), 6},
		{"Duplicate", append(rawColumns(1), rawColumns(2)...), 6},
		{"Derived", []vpw.LogColumn{vpw.NewLogColumn(vpw.Boost)}, 6},
		{"NoCapacity", rawColumns(1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := datalog.Allocate(tt.columns, tt.max)
			if !errors.Is(err, datalog.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration but got %v", err)
			}
		})
	}
}

func TestAllocate_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		widths := make([]int, r.Intn(40))
		for j := range widths {
			widths[j] = 1 + r.Intn(2)
		}
		cols := rawColumns(widths...)

		cfg, err := datalog.Allocate(cols, vpw.MaxBytes)
		if err != nil {
			t.Fatal(err)
		}

		packed := make(map[string]int)
		next := 0xFE
		for _, g := range cfg.ParameterGroups {
			if int(g.ID) != next {
				t.Fatalf("case %d: expected group id %02X but got %02X", i, next, g.ID)
			}
			next--

			total := 0
			for _, c := range g.LogColumns {
				packed[c.Parameter.ID]++
				total += c.Parameter.ByteCount
			}
			if total != g.TotalBytes || g.TotalBytes > vpw.MaxBytes || len(g.LogColumns) == 0 {
				t.Fatalf("case %d: bad group %v", i, groupIDs(cfg))
			}
		}

		if len(packed) != len(cols) {
			t.Fatalf("case %d: packed %d of %d columns", i, len(packed), len(cols))
		}
		for _, c := range cols {
			if packed[c.Parameter.ID] != 1 {
				t.Fatalf("case %d: %s packed %d times", i, c.Parameter.ID, packed[c.Parameter.ID])
			}
		}
	}
}
