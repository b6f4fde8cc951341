// Copyright 2021 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package config holds the engine-wide tuning knobs: a couple of
// behavior switches left as build/runtime options, plus the mdbx
// environment sizing parameters.
package config

import (
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"

	"github.com/erigontech/tablestore/log"
)

// FloatPrecisionPolicy governs loss-of-precision when storing a wider
// float in a narrower column.
type FloatPrecisionPolicy uint8

const (
	// Strict rejects any f64 input to an f32 column whose mantissa would be
	// truncated, so round-tripping through the key codec is always lossless.
	Strict FloatPrecisionPolicy = iota
	// Lax truncates silently.
	Lax
)

// CursorDeleteRecovery governs cursor positioning after deleting its
// current row.
type CursorDeleteRecovery uint8

const (
	// Unset leaves a cursor unpositioned after deleting its current row;
	// the next positional call returns Cursor until repositioned. Default.
	Unset CursorDeleteRecovery = iota
	// AdvanceInRange repositions the cursor on the next in-range key, if any,
	// instead of unsetting it.
	AdvanceInRange
)

// DefaultMaxKeyLen is the default engine-wide key length ceiling. 511 matches the mdbx
// default page-derived key limit this ecosystem's own tables are built
// against.
const DefaultMaxKeyLen = 511

// Options configures a DB at Open time.
type Options struct {
	// MaxKeyLen bounds every encoded key (both the scalar codec's long-key
	// truncation rule and the composite builder's truncation rule consult
	// this).
	MaxKeyLen int

	// FloatPrecisionPolicy governs f64→f32 key encoding.
	FloatPrecisionPolicy FloatPrecisionPolicy

	// CursorAfterDelete governs cursor positioning post-delete.
	CursorAfterDelete CursorDeleteRecovery

	// DialectAllowDot permits '.' in table/column names, off by default.
	DialectAllowDot bool

	// MapSize is the mdbx environment's memory map size ceiling.
	MapSize datasize.ByteSize

	// MaxDBs bounds how many sub-DBs (PK + secondary indexes, across all
	// tables) the mdbx environment will open.
	MaxDBs int

	// Logger receives schema-change and writer-cancellation diagnostics.
	// Defaults to log.Discard.
	Logger log.Logger
}

// Default returns the engine's baseline configuration.
func Default() Options {
	return Options{
		MaxKeyLen:            DefaultMaxKeyLen,
		FloatPrecisionPolicy: Strict,
		CursorAfterDelete:    Unset,
		DialectAllowDot:      false,
		MapSize:              64 * datasize.GB,
		MaxDBs:               4096,
		Logger:               log.Discard,
	}
}

// profile is the on-disk TOML shape; Options.Logger has no TOML
// representation and is left at its Default() value when loading a profile.
type profile struct {
	MaxKeyLen            int    `toml:"max_key_len"`
	FloatPrecisionPolicy string `toml:"float_precision_policy"`
	CursorAfterDelete    string `toml:"cursor_after_delete"`
	DialectAllowDot      bool   `toml:"dialect_allow_dot"`
	MapSizeBytes         uint64 `toml:"map_size_bytes"`
	MaxDBs               int    `toml:"max_dbs"`
}

// LoadProfile reads a TOML tuning profile, overlaying it on Default().
func LoadProfile(path string) (Options, error) {
	opt := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return opt, err
	}
	var p profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return opt, err
	}
	if p.MaxKeyLen > 0 {
		opt.MaxKeyLen = p.MaxKeyLen
	}
	switch p.FloatPrecisionPolicy {
	case "lax":
		opt.FloatPrecisionPolicy = Lax
	case "strict", "":
	}
	switch p.CursorAfterDelete {
	case "advance_in_range":
		opt.CursorAfterDelete = AdvanceInRange
	case "unset", "":
	}
	opt.DialectAllowDot = p.DialectAllowDot
	if p.MapSizeBytes > 0 {
		opt.MapSize = datasize.ByteSize(p.MapSizeBytes)
	}
	if p.MaxDBs > 0 {
		opt.MaxDBs = p.MaxDBs
	}
	return opt, nil
}
