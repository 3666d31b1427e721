package datalog

import (
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/gavinwade12/pcmLogger/units"
	"github.com/pkg/errors"
)

// MathColumn is a derived column and the raw columns that feed it.
type MathColumn struct {
	Column vpw.LogColumn
	X, Y   vpw.LogColumn
}

// Resolve splits columns into raw and derived ones and makes sure every
// derived input is logged. Missing inputs are appended to the raw columns
// in the units the derived parameter asks for. Derived inputs must be raw.
func Resolve(columns []vpw.LogColumn) ([]vpw.LogColumn, []MathColumn, error) {
	var (
		raw     []vpw.LogColumn
		derived []vpw.LogColumn
	)
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		p := col.Parameter
		if p == nil {
			return nil, nil, errors.Wrap(ErrConfiguration, "column without a parameter")
		}
		if seen[p.ID] {
			return nil, nil, errors.Wrapf(ErrConfiguration, "%s requested more than once", p.ID)
		}
		seen[p.ID] = true

		if p.Kind == vpw.KindDerived {
			derived = append(derived, col)
		} else {
			raw = append(raw, col)
		}
	}

	find := func(dep vpw.Dependency) (vpw.LogColumn, error) {
		if dep.Parameter == nil {
			return vpw.LogColumn{}, errors.Wrap(ErrConfiguration, "derived input without a parameter")
		}
		if dep.Parameter.Kind != vpw.KindRaw {
			return vpw.LogColumn{}, errors.Wrapf(ErrConfiguration, "%s is derived and cannot feed another derived parameter", dep.Parameter.ID)
		}
		for _, col := range raw {
			if col.Parameter.ID == dep.Parameter.ID {
				return col, nil
			}
		}
		col := vpw.LogColumn{Parameter: dep.Parameter, Conversion: dep.Conversion}
		raw = append(raw, col)
		return col, nil
	}

	mathColumns := make([]MathColumn, 0, len(derived))
	for _, col := range derived {
		p := col.Parameter
		if p.Combine == nil {
			return nil, nil, errors.Wrapf(ErrConfiguration, "%s has no formula", p.ID)
		}
		x, err := find(p.X)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "resolving %s", p.ID)
		}
		y, err := find(p.Y)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "resolving %s", p.ID)
		}
		if err = checkUnits(col, x, y); err != nil {
			return nil, nil, err
		}
		mathColumns = append(mathColumns, MathColumn{Column: col, X: x, Y: y})
	}
	return raw, mathColumns, nil
}

func checkUnits(col, x, y vpw.LogColumn) error {
	p := col.Parameter
	pairs := []struct{ from, to units.Unit }{
		{x.Parameter.Unit, unitsOf(x)},
		{y.Parameter.Unit, unitsOf(y)},
		{unitsOf(x), unitsOr(p.X.Conversion.Units, p.X.Parameter.Unit)},
		{unitsOf(y), unitsOr(p.Y.Conversion.Units, p.Y.Parameter.Unit)},
		{p.Unit, unitsOf(col)},
	}
	for _, pair := range pairs {
		if !units.CanConvert(pair.from, pair.to) {
			return errors.Wrapf(ErrConfiguration, "%s cannot convert %s to %s", p.ID, pair.from, pair.to)
		}
	}
	return nil
}

func unitsOf(col vpw.LogColumn) units.Unit {
	return unitsOr(col.Conversion.Units, col.Parameter.Unit)
}

func unitsOr(u, fallback units.Unit) units.Unit {
	if u == "" {
		return fallback
	}
	return u
}
