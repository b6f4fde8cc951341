// Copyright 2022 Erigon contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package composite builds composite keys: concatenating the per-column
// encoded keys of a declared composite index into one physical key.
package composite

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	"github.com/erigontech/tablestore/keycodec"
	"github.com/erigontech/tablestore/kv"
)

// Component describes one column participating in a composite index, in
// declaration order.
type Component struct {
	Type      keycodec.Type
	Direction kv.Direction
	Nullable  bool
}

// Descriptor is the composite index's own shape: it inherits
// ordered/reverse/unique from its own index descriptor, not its
// components'.
type Descriptor struct {
	Components []Component
	Ordered    bool
	Tersely    bool
}

const (
	absentMarker byte = 0x00
	presentMarker byte = 0x01
)

// ErrKind mirrors keycodec's local taxonomy so the root package can map
// both onto the public ErrCode enum uniformly.
type ErrKind uint8

const (
	ErrNone ErrKind = iota
	ErrColumnMissing
)

type Error struct {
	Kind  ErrKind
	Index int
}

func (e *Error) Error() string { return "composite: required component missing" }

// Compose concatenates the per-component encoded keys, in declaration
// order, into one composite key given the already-extracted component
// values (the root package is responsible for pulling each component's
// value out of the row via the tuple accessor before calling this --
// composite never reads the row itself, including never reading the PK).
func Compose(d Descriptor, values []keycodec.Value, present []bool, opts keycodec.Options) ([]byte, error) {
	if !d.Ordered {
		return composeUnordered(d, values, present, opts)
	}
	return composeOrdered(d, values, present, opts)
}

func composeOrdered(d Descriptor, values []keycodec.Value, present []bool, opts keycodec.Options) ([]byte, error) {
	var out []byte
	for i, c := range d.Components {
		if !present[i] {
			if !c.Nullable && !d.Tersely {
				return nil, &Error{Kind: ErrColumnMissing, Index: i}
			}
			// Nullable (or tersely-mode) absent component: DENIL/absent-marker
			// substitution.
			enc, err := keycodec.EncodeComponent(c.Type, keycodec.NullValue(c.Type), opts, c.Direction)
			if err != nil {
				return nil, err
			}
			out = append(out, enc...)
			if needsPresentMarker(c, d.Tersely) {
				out = append(out, absentMarker)
			}
			continue
		}

		// A present slot can still carry an explicit Null (set via
		// UpsertColumn rather than omitted outright); EncodeComponent
		// recognizes Value.Null and substitutes the DENIL sentinel itself,
		// so it's only the nullability check that needs repeating here.
		v := values[i]
		if v.Null && !c.Nullable {
			return nil, &Error{Kind: ErrColumnMissing, Index: i}
		}
		enc, err := keycodec.EncodeComponent(c.Type, v, opts, c.Direction)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
		if needsPresentMarker(c, d.Tersely) {
			out = append(out, presentMarker)
		}
	}
	return truncateIfLong(out, opts.MaxKeyLen), nil
}

// needsPresentMarker implements the tersely-mode toggle: each
// variable-length component contributes its codec output followed by a
// present-marker byte when the composite is NOT tersely. In tersely
// mode, fixed-width nullable components gain a 1-byte present-marker;
// variable-length components drop their marker.
func needsPresentMarker(c Component, tersely bool) bool {
	_, fixed := c.Type.FixedWidth()
	variable := !fixed
	if tersely {
		return fixed && c.Nullable
	}
	return variable
}

func composeUnordered(d Descriptor, values []keycodec.Value, present []bool, opts keycodec.Options) ([]byte, error) {
	var buf []byte
	for i, c := range d.Components {
		if !present[i] {
			if !c.Nullable {
				return nil, &Error{Kind: ErrColumnMissing, Index: i}
			}
			enc, err := keycodec.EncodeComponent(c.Type, keycodec.NullValue(c.Type), opts, kv.Obverse)
			if err != nil {
				return nil, err
			}
			buf = append(buf, enc...)
			continue
		}
		v := values[i]
		if v.Null && !c.Nullable {
			return nil, &Error{Kind: ErrColumnMissing, Index: i}
		}
		enc, err := keycodec.EncodeComponent(c.Type, v, opts, kv.Obverse)
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}
	h := murmur3.Sum64(buf)
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, h)
	return out, nil
}

// truncateIfLong reapplies the scalar codec's long-key rule across the
// whole composite once components are concatenated.
func truncateIfLong(encoded []byte, maxKeyLen int) []byte {
	if len(encoded) <= maxKeyLen {
		return encoded
	}
	cut := maxKeyLen - 8
	if cut < 0 {
		cut = 0
	}
	suffix := encoded[cut:]
	h := murmur3.Sum64(suffix)
	out := make([]byte, 0, maxKeyLen)
	out = append(out, encoded[:cut]...)
	tail := make([]byte, 8)
	binary.BigEndian.PutUint64(tail, h)
	return append(out, tail...)
}

// FieldPresence is a small helper so callers can build the present[]
// slice directly from tuple lookups without importing tuple here (avoids
// a tuple<->composite import cycle; the root package glues the two).
func FieldPresence(n int) []bool { return make([]bool, n) }
