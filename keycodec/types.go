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

// Package keycodec turns a typed column value
// into the ordered byte string an index's sub-DB uses as its key.
package keycodec

import "github.com/erigontech/tablestore/kv"

// Type is the closed set of scalar column types. Composite
// is handled by the sibling composite package, not here.
type Type uint8

const (
	U16 Type = iota
	U32
	U64
	I32
	I64
	F32
	F64
	Datetime
	Bin96
	Bin128
	Bin160
	Bin256
	BinVar
	CStrVar
)

func (t Type) FixedWidth() (width int, ok bool) {
	switch t {
	case U16:
		return 2, true
	case U32, I32, F32:
		return 4, true
	case U64, I64, F64, Datetime:
		return 8, true
	case Bin96:
		return 12, true
	case Bin128:
		return 16, true
	case Bin160:
		return 20, true
	case Bin256:
		return 32, true
	default:
		return 0, false
	}
}

func (t Type) IsVariable() bool { return t == BinVar || t == CStrVar }

func (t Type) IsInteger() bool {
	switch t {
	case U16, U32, U64, I32, I64, Datetime:
		return true
	default:
		return false
	}
}

func (t Type) IsFloat() bool { return t == F32 || t == F64 }

// Value is a tagged union: one tag plus a payload. Null, together with
// Type, determines DENIL handling.
type Value struct {
	Type  Type
	Null  bool
	U     uint64 // u16/u32/u64/datetime
	I     int64  // i32/i64
	F     float64
	Bytes []byte // bin96..bin256, bin_var, cstr_var
}

func U16Value(v uint16) Value      { return Value{Type: U16, U: uint64(v)} }
func U32Value(v uint32) Value      { return Value{Type: U32, U: uint64(v)} }
func U64Value(v uint64) Value      { return Value{Type: U64, U: v} }
func I32Value(v int32) Value       { return Value{Type: I32, I: int64(v)} }
func I64Value(v int64) Value       { return Value{Type: I64, I: v} }
func F32Value(v float32) Value     { return Value{Type: F32, F: float64(v)} }
func F64Value(v float64) Value     { return Value{Type: F64, F: v} }
func DatetimeValue(v uint64) Value { return Value{Type: Datetime, U: v} }
func BinValue(t Type, b []byte) Value {
	return Value{Type: t, Bytes: b}
}
func CStrValue(s string) Value { return Value{Type: CStrVar, Bytes: []byte(s)} }

func NullValue(t Type) Value { return Value{Type: t, Null: true} }

// IndexSpec is the subset of a column's index descriptor the codec needs:
// direction and orderedness. (Unique/primary/with-dups don't affect key
// bytes, only how the row and cursor layers use them.)
type IndexSpec struct {
	Type      Type
	Direction kv.Direction
	Ordered   bool
	Nullable  bool
}
