// Package datalog turns a list of requested columns into DPID groups and
// drives the request/read cycle that produces rows of values.
package datalog

import (
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/pkg/errors"
)

// ErrConfiguration is returned when the requested columns cannot form a
// logging session.
var ErrConfiguration = errors.New("invalid logging configuration")

const (
	firstGroupID byte = 0xFE
	lastGroupID  byte = 0x01
)

// Allocate packs raw columns into groups of at most maxBytes. Wide columns
// are placed first, then single byte columns fill the remaining space, in
// input order within each pass. Group ids count down from 0xFE so they
// stay clear of the low ids the PCM uses itself.
func Allocate(columns []vpw.LogColumn, maxBytes int) (vpw.DpidConfiguration, error) {
	var cfg vpw.DpidConfiguration
	if maxBytes <= 0 {
		return cfg, errors.Wrapf(ErrConfiguration, "group capacity %d", maxBytes)
	}

	var wide, single []vpw.LogColumn
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		p := col.Parameter
		if p == nil {
			return cfg, errors.Wrap(ErrConfiguration, "column without a parameter")
		}
		if p.Kind != vpw.KindRaw {
			return cfg, errors.Wrapf(ErrConfiguration, "%s is not a raw parameter", p.ID)
		}
		if seen[p.ID] {
			return cfg, errors.Wrapf(ErrConfiguration, "%s requested more than once", p.ID)
		}
		seen[p.ID] = true

		switch {
		case p.ByteCount <= 0 || p.ByteCount > maxBytes:
			return cfg, errors.Wrapf(ErrConfiguration, "%s is %d bytes wide, groups hold %d", p.ID, p.ByteCount, maxBytes)
		case p.ByteCount == 1:
			single = append(single, col)
		default:
			wide = append(wide, col)
		}
	}

	id := firstGroupID
	group := vpw.ParameterGroup{ID: id}
	closeGroup := func() error {
		cfg.ParameterGroups = append(cfg.ParameterGroups, group)
		if id == lastGroupID {
			return errors.Wrap(ErrConfiguration, "out of DPID ids")
		}
		id--
		group = vpw.ParameterGroup{ID: id}
		return nil
	}

	for _, col := range append(wide, single...) {
		if group.TotalBytes+col.Parameter.ByteCount > maxBytes {
			if err := closeGroup(); err != nil {
				return vpw.DpidConfiguration{}, err
			}
		}
		group.LogColumns = append(group.LogColumns, col)
		group.TotalBytes += col.Parameter.ByteCount
	}
	if len(group.LogColumns) > 0 {
		cfg.ParameterGroups = append(cfg.ParameterGroups, group)
	}
	return cfg, nil
}
