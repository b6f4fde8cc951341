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

// Package schema holds table/column/index descriptors,
// the persisted catalog record format, describe-time validation, and
// runtime name handles with epoch-based staleness detection.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
	"github.com/ugorji/go/codec"

	"github.com/erigontech/tablestore/keycodec"
	"github.com/erigontech/tablestore/kv"
)

// schemaFormat versions the catalog record's own wire shape, independent
// of any one table's fingerprint -- bump this if the CBOR layout changes.
//
// 1 - initial format: name, columns, fingerprint, sequence.
const schemaFormat = 1

// IndexKind distinguishes primary from secondary per table; exactly
// one per table may be primary.
type IndexKind uint8

const (
	NotIndexed IndexKind = iota
	Primary
	Secondary
)

// ColumnDescriptor is one column's full declaration.
type ColumnDescriptor struct {
	Name      string
	Slot      uint16
	Type      keycodec.Type
	Kind      IndexKind
	Unique    bool
	Ordered   bool
	Direction kv.Direction
	Nullable  bool

	// Composite lists the component slots, in order, when Type is a
	// virtual composite column; empty otherwise.
	Composite []uint16
	// Tersely mirrors the composite descriptor's own tersely-mode switch;
	// meaningless unless Composite is non-empty.
	Tersely bool
}

func (c ColumnDescriptor) isComposite() bool { return len(c.Composite) > 0 }

// widthBits reports the encoded width of a scalar type in bits, or 0 for
// variable-length types; used by the "narrower than 96 bits" rejection
// rule.
func widthBits(t keycodec.Type) int {
	w, ok := t.FixedWidth()
	if !ok {
		return 0
	}
	return w * 8
}

// reverseSensitive reports whether a type has a well-defined DENIL
// placement under the Reverse direction -- which extreme a nullable
// value sorts to depends on obverse vs. reverse for reverse-sensitive
// types. Every fixed-width
// scalar has one here (keycodec's uniform all-zero/all-0xFF sentinel,
// see keycodec/nullable.go); variable-length types do not, since their
// reverse-direction "out-of-band marker" has no fixed position to pin a
// sort extreme to.
func reverseSensitive(t keycodec.Type) bool {
	_, fixed := t.FixedWidth()
	return fixed
}

// TableDescriptor is the full persisted shape of one table: its columns
// in declaration order, a content fingerprint,
// and the deterministic sub-DB name for each index.
type TableDescriptor struct {
	Name        string
	Columns     []ColumnDescriptor
	Fingerprint uint64
	Sequence    uint64
	Epoch       uint64 // schema version this descriptor was written under
}

// PKColumn returns the table's single primary column descriptor.
func (t *TableDescriptor) PKColumn() (ColumnDescriptor, bool) {
	for _, c := range t.Columns {
		if c.Kind == Primary {
			return c, true
		}
	}
	return ColumnDescriptor{}, false
}

// ColumnByName looks up a column case-insensitively.
func (t *TableDescriptor) ColumnByName(name string) (ColumnDescriptor, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnDescriptor{}, false
}

// SubDBName derives the opaque, deterministic sub-DB identifier for a
// column's index, from the table's fingerprint and the column's slot --
// the engine never relies on textual names at the K/V layer.
func (t *TableDescriptor) SubDBName(slot uint16) string {
	h := murmur3.Sum64(append(fmt.Appendf(nil, "%016x", t.Fingerprint), byte(slot>>8), byte(slot)))
	return fmt.Sprintf("t%016x", h)
}

// Fingerprint computes the schema fingerprint: a hash of the columns'
// names, types, and index shape, deliberately excluding Slot and the
// table's own Sequence/Epoch so that rename-free, reorder-free edits
// (re-fingerprinting without restructuring) are stable.
func Fingerprint(name string, columns []ColumnDescriptor) uint64 {
	sorted := append([]ColumnDescriptor(nil), columns...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := murmur3.New64()
	_, _ = h.Write([]byte(name))
	for _, c := range sorted {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(c.Name))
		_, _ = h.Write([]byte{byte(c.Type), byte(c.Kind), byte(c.Direction)})
		flags := byte(0)
		if c.Unique {
			flags |= 1
		}
		if c.Ordered {
			flags |= 2
		}
		if c.Nullable {
			flags |= 4
		}
		if c.Tersely {
			flags |= 8
		}
		_, _ = h.Write([]byte{flags})
		for _, s := range c.Composite {
			_, _ = h.Write([]byte{byte(s >> 8), byte(s)})
		}
	}
	return h.Sum64()
}

// catalogRecord is the CBOR wire shape of a TableDescriptor.
// schemaFormat is written first so a future format revision can branch on
// it before decoding the rest.
type catalogRecord struct {
	Format      int             `codec:"f"`
	Name        string          `codec:"n"`
	Columns     []catalogColumn `codec:"c"`
	Fingerprint uint64          `codec:"g"`
	Sequence    uint64          `codec:"s"`
	Epoch       uint64          `codec:"e"`
}

type catalogColumn struct {
	Name      string   `codec:"n"`
	Slot      uint16   `codec:"sl"`
	Type      uint8    `codec:"t"`
	Kind      uint8    `codec:"k"`
	Unique    bool     `codec:"u"`
	Ordered   bool     `codec:"o"`
	Direction uint8    `codec:"d"`
	Nullable  bool     `codec:"nl"`
	Composite []uint16 `codec:"co,omitempty"`
	Tersely   bool     `codec:"te,omitempty"`
}

var cborHandle codec.CborHandle

// EncodeRecord serializes a TableDescriptor into its catalog sub-DB value.
func EncodeRecord(t *TableDescriptor) ([]byte, error) {
	rec := catalogRecord{
		Format:      schemaFormat,
		Name:        t.Name,
		Fingerprint: t.Fingerprint,
		Sequence:    t.Sequence,
		Epoch:       t.Epoch,
	}
	for _, c := range t.Columns {
		rec.Columns = append(rec.Columns, catalogColumn{
			Name: c.Name, Slot: c.Slot, Type: uint8(c.Type), Kind: uint8(c.Kind),
			Unique: c.Unique, Ordered: c.Ordered, Direction: uint8(c.Direction),
			Nullable: c.Nullable, Composite: c.Composite, Tersely: c.Tersely,
		})
	}
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &cborHandle)
	if err := enc.Encode(&rec); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(b []byte) (*TableDescriptor, error) {
	var rec catalogRecord
	dec := codec.NewDecoderBytes(b, &cborHandle)
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	t := &TableDescriptor{
		Name: rec.Name, Fingerprint: rec.Fingerprint,
		Sequence: rec.Sequence, Epoch: rec.Epoch,
	}
	for _, c := range rec.Columns {
		t.Columns = append(t.Columns, ColumnDescriptor{
			Name: c.Name, Slot: c.Slot, Type: keycodec.Type(c.Type), Kind: IndexKind(c.Kind),
			Unique: c.Unique, Ordered: c.Ordered, Direction: kv.Direction(c.Direction),
			Nullable: c.Nullable, Composite: c.Composite, Tersely: c.Tersely,
		})
	}
	return t, nil
}
