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

// Package tuple packs a row as an opaque blob: a set of (slot -> value)
// pairs. Row packing is treated as an external collaborator elsewhere in
// the engine; this package is the reference implementation the rest of
// the engine is built and tested against -- a flat, slot-addressable byte
// buffer, the idiomatic shape for this concern (see DESIGN.md).
package tuple

import (
	"encoding/binary"
	"math"

	"github.com/erigontech/tablestore/keycodec"
)

// Row is a packed, immutable tuple: a sorted slot->value directory
// followed by the value payloads. Decoding a column is an O(log n) lookup
// by slot, not a full unpack.
type Row struct {
	slots  []uint16 // sorted slot numbers present in this row
	starts []uint32 // offset of each slot's encoded value within data
	data   []byte
	types  []keycodec.Type
	null   []bool
}

// GetColumn returns the value at slot, or reports it absent.
func (r *Row) GetColumn(slot uint16) (keycodec.Value, bool) {
	idx := r.indexOf(slot)
	if idx < 0 {
		return keycodec.Value{}, false
	}
	if r.null[idx] {
		return keycodec.NullValue(r.types[idx]), true
	}
	end := len(r.data)
	if idx+1 < len(r.starts) {
		end = int(r.starts[idx+1])
	}
	return decodeValue(r.types[idx], r.data[r.starts[idx]:end]), true
}

// Slots returns the present slot numbers in ascending order, for
// iteration over present slots.
func (r *Row) Slots() []uint16 {
	out := make([]uint16, len(r.slots))
	copy(out, r.slots)
	return out
}

// Marshal packs the row into the byte string stored as a PK sub-DB's
// value: a small per-slot directory (slot, type, null) followed by the
// same payload buffer Finalize already built, so Marshal never re-encodes
// a value.
func (r *Row) Marshal() []byte {
	out := make([]byte, 2, 2+3*len(r.slots)+len(r.data))
	binary.LittleEndian.PutUint16(out, uint16(len(r.slots)))
	for i, s := range r.slots {
		var hdr [3]byte
		binary.LittleEndian.PutUint16(hdr[:2], s)
		hdr[2] = byte(r.types[i])
		if r.null[i] {
			hdr[2] |= 0x80
		}
		out = append(out, hdr[:]...)
	}
	return append(out, r.data...)
}

// Unmarshal rebuilds a Row from Marshal's output. Per-slot offsets are
// recomputed by walking the payload once, the same way GetColumn's
// binary search expects them laid out: 8 bytes for every fixed-width
// scalar (Finalize's encodeValue never shrinks below that), a 4-byte
// length prefix plus payload for everything else.
func Unmarshal(b []byte) (*Row, error) {
	if len(b) < 2 {
		return nil, errShortRow
	}
	n := int(binary.LittleEndian.Uint16(b))
	pos := 2
	r := &Row{}
	type hdr struct {
		slot uint16
		typ  keycodec.Type
		null bool
	}
	hdrs := make([]hdr, n)
	for i := 0; i < n; i++ {
		if pos+3 > len(b) {
			return nil, errShortRow
		}
		slot := binary.LittleEndian.Uint16(b[pos : pos+2])
		tb := b[pos+2]
		hdrs[i] = hdr{slot: slot, typ: keycodec.Type(tb &^ 0x80), null: tb&0x80 != 0}
		pos += 3
	}
	data := b[pos:]
	off := 0
	for _, h := range hdrs {
		r.slots = append(r.slots, h.slot)
		r.types = append(r.types, h.typ)
		r.null = append(r.null, h.null)
		r.starts = append(r.starts, uint32(off))
		if h.null {
			continue
		}
		off += valueWidth(h.typ, data[off:])
	}
	r.data = data
	return r, nil
}

var errShortRow = &rowError{"tuple: truncated row payload"}

type rowError struct{ msg string }

func (e *rowError) Error() string { return e.msg }

// valueWidth reports how many bytes of data one non-null value occupies,
// matching encodeValue's own layout exactly.
func valueWidth(t keycodec.Type, tail []byte) int {
	switch t {
	case keycodec.U16, keycodec.U32, keycodec.U64, keycodec.Datetime,
		keycodec.I32, keycodec.I64, keycodec.F32, keycodec.F64:
		return 8
	default:
		n := binary.LittleEndian.Uint32(tail[:4])
		return 4 + int(n)
	}
}

func (r *Row) indexOf(slot uint16) int {
	lo, hi := 0, len(r.slots)
	for lo < hi {
		mid := (lo + hi) / 2
		if r.slots[mid] < slot {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(r.slots) && r.slots[lo] == slot {
		return lo
	}
	return -1
}

// Builder accumulates (slot, value) pairs before Finalize packs them into
// a Row.
type Builder struct {
	entries map[uint16]keycodec.Value
	order   []uint16
}

func NewBuilder() *Builder {
	return &Builder{entries: make(map[uint16]keycodec.Value)}
}

// UpsertColumn records a (slot, value) pair, overwriting any prior value
// for the same slot. This reference implementation defers type/domain
// validation to the codec at key-encode time and to the caller at
// schema-describe time; it never rejects a value itself, since a tuple
// builder has no column-type context of its own (that lives in the schema
// catalog, one layer up) -- the tuple library is dumb storage, not a
// validating layer.
func (b *Builder) UpsertColumn(slot uint16, v keycodec.Value) {
	if _, seen := b.entries[slot]; !seen {
		b.order = append(b.order, slot)
	}
	b.entries[slot] = v
}

// Finalize packs the accumulated entries into an immutable Row, slots
// sorted ascending for binary search lookups.
func (b *Builder) Finalize() *Row {
	slots := append([]uint16(nil), b.order...)
	insertionSort(slots)

	r := &Row{}
	var data []byte
	for _, s := range slots {
		v := b.entries[s]
		r.slots = append(r.slots, s)
		r.starts = append(r.starts, uint32(len(data)))
		r.types = append(r.types, v.Type)
		r.null = append(r.null, v.Null)
		if !v.Null {
			data = append(data, encodeValue(v)...)
		}
	}
	r.data = data
	return r
}

func insertionSort(s []uint16) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// encodeValue/decodeValue are the Row's own storage format -- independent
// of keycodec's ordered key encoding, since a row payload need only
// round-trip, not sort.
func encodeValue(v keycodec.Value) []byte {
	switch v.Type {
	case keycodec.U16, keycodec.U32, keycodec.U64, keycodec.Datetime:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v.U)
		return buf
	case keycodec.I32, keycodec.I64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v.I))
		return buf
	case keycodec.F32, keycodec.F64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.F))
		return buf
	default:
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(v.Bytes)))
		return append(lenBuf, v.Bytes...)
	}
}

func decodeValue(t keycodec.Type, b []byte) keycodec.Value {
	switch t {
	case keycodec.U16, keycodec.U32, keycodec.U64, keycodec.Datetime:
		return keycodec.Value{Type: t, U: binary.LittleEndian.Uint64(b)}
	case keycodec.I32, keycodec.I64:
		return keycodec.Value{Type: t, I: int64(binary.LittleEndian.Uint64(b))}
	case keycodec.F32, keycodec.F64:
		return keycodec.Value{Type: t, F: math.Float64frombits(binary.LittleEndian.Uint64(b))}
	default:
		n := binary.LittleEndian.Uint32(b[:4])
		out := make([]byte, n)
		copy(out, b[4:4+n])
		return keycodec.Value{Type: t, Bytes: out}
	}
}
