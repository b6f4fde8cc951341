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

package tablestore

import (
	"bytes"

	"github.com/erigontech/tablestore/keycodec"
	"github.com/erigontech/tablestore/tuple"
)

// CmpOp is one of the filter tree's leaf comparison operators.
type CmpOp uint8

const (
	OpEQ CmpOp = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
)

type filterKind uint8

const (
	filterFnRow filterKind = iota
	filterFnCol
	filterColOp
	filterAnd
	filterOr
	filterNot
)

// Filter is the cursor's predicate tree: a tagged variant with owned
// children, no dynamic dispatch. Evaluation short-circuits.
type Filter struct {
	kind     filterKind
	children []*Filter

	fnRow func(*tuple.Row) bool
	fnCol func(v keycodec.Value, present bool) bool

	slot  uint16
	op    CmpOp
	value keycodec.Value
}

// FilterFnRow wraps an arbitrary whole-row predicate (`fn_row(row)`).
func FilterFnRow(fn func(*tuple.Row) bool) *Filter { return &Filter{kind: filterFnRow, fnRow: fn} }

// FilterFnCol wraps a single-column predicate (`fn_col(column, arg)`).
func FilterFnCol(slot uint16, fn func(v keycodec.Value, present bool) bool) *Filter {
	return &Filter{kind: filterFnCol, slot: slot, fnCol: fn}
}

// FilterColOp is the `col OP value` leaf.
func FilterColOp(slot uint16, op CmpOp, value keycodec.Value) *Filter {
	return &Filter{kind: filterColOp, slot: slot, op: op, value: value}
}

func FilterAnd(children ...*Filter) *Filter { return &Filter{kind: filterAnd, children: children} }
func FilterOr(children ...*Filter) *Filter  { return &Filter{kind: filterOr, children: children} }
func FilterNot(child *Filter) *Filter       { return &Filter{kind: filterNot, children: []*Filter{child}} }

// Eval implements the predicate tree's evaluation over one row; a nil
// Filter always matches (no filter installed).
func (f *Filter) Eval(row *tuple.Row) bool {
	if f == nil {
		return true
	}
	switch f.kind {
	case filterFnRow:
		return f.fnRow(row)
	case filterFnCol:
		v, ok := row.GetColumn(f.slot)
		return f.fnCol(v, ok)
	case filterColOp:
		v, ok := row.GetColumn(f.slot)
		if !ok {
			return false
		}
		return compareValues(v, f.value, f.op)
	case filterAnd:
		for _, c := range f.children {
			if !c.Eval(row) {
				return false
			}
		}
		return true
	case filterOr:
		for _, c := range f.children {
			if c.Eval(row) {
				return true
			}
		}
		return false
	case filterNot:
		return !f.children[0].Eval(row)
	default:
		return false
	}
}

func compareValues(a, b keycodec.Value, op CmpOp) bool {
	c := compareValue(a, b)
	switch op {
	case OpEQ:
		return c == 0
	case OpNE:
		return c != 0
	case OpLT:
		return c < 0
	case OpLE:
		return c <= 0
	case OpGT:
		return c > 0
	case OpGE:
		return c >= 0
	default:
		return false
	}
}

// compareValue orders two typed values logically (not by encoded bytes);
// NULL sorts lowest regardless of direction, matching the filter's
// column-value semantics rather than the index's on-disk DENIL placement.
func compareValue(a, b keycodec.Value) int {
	if a.Null || b.Null {
		switch {
		case a.Null && b.Null:
			return 0
		case a.Null:
			return -1
		default:
			return 1
		}
	}
	switch a.Type {
	case keycodec.F32, keycodec.F64:
		switch {
		case a.F < b.F:
			return -1
		case a.F > b.F:
			return 1
		default:
			return 0
		}
	case keycodec.I32, keycodec.I64:
		switch {
		case a.I < b.I:
			return -1
		case a.I > b.I:
			return 1
		default:
			return 0
		}
	case keycodec.BinVar, keycodec.CStrVar, keycodec.Bin96, keycodec.Bin128, keycodec.Bin160, keycodec.Bin256:
		return bytes.Compare(a.Bytes, b.Bytes)
	default:
		switch {
		case a.U < b.U:
			return -1
		case a.U > b.U:
			return 1
		default:
			return 0
		}
	}
}
