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

package schema

import (
	"unicode"

	"github.com/erigontech/tablestore/kv"
)

// maxNameLen caps table and column name length. Separately, '.' is
// rejected unless the caller opts in (config.Options.DialectAllowDot), a
// compile-time dialect flag reproduced here as a runtime switch passed
// into Validate.
const maxNameLen = 128

// ColumnSet is an apriori, open-table-free validation helper: callers
// build up a set of column declarations and Validate() it before
// DB.CreateTable ever touches a DBI.
type ColumnSet struct {
	columns []ColumnDescriptor
	slots   map[uint16]bool
	names   map[string]bool
}

func NewColumnSet() *ColumnSet {
	return &ColumnSet{slots: map[uint16]bool{}, names: map[string]bool{}}
}

// Add appends one column declaration, rejecting duplicate slots or names
// immediately (cheap, local checks); structural rules that need the whole
// set (exactly-one-PK, SimilarIndex, ...) are deferred to Validate.
func (cs *ColumnSet) Add(c ColumnDescriptor) error {
	if cs.slots[c.Slot] {
		return &Error{Kind: ErrDuplicateSlot, Name: c.Name}
	}
	key := normalizeName(c.Name)
	if cs.names[key] {
		return &Error{Kind: ErrDuplicateName, Name: c.Name}
	}
	cs.slots[c.Slot] = true
	cs.names[key] = true
	cs.columns = append(cs.columns, c)
	return nil
}

// Validate runs the full describe-time rejection-rule list over the
// accumulated set. allowDot mirrors config.Options.DialectAllowDot.
func (cs *ColumnSet) Validate(allowDot bool) error {
	var primaries int
	var simple []ColumnDescriptor
	var composites []ColumnDescriptor

	for _, c := range cs.columns {
		if err := validateName(c.Name, allowDot); err != nil {
			return err
		}
		if c.Kind == Primary {
			primaries++
		}
		if c.isComposite() {
			composites = append(composites, c)
		} else if c.Kind != NotIndexed {
			simple = append(simple, c)
		}

		if !c.Ordered && c.Direction != kv.Obverse {
			return &Error{Kind: ErrUnorderedWithDirection, Name: c.Name}
		}

		if c.Kind == Primary && c.Nullable && c.Direction == kv.Reverse && !reverseSensitive(c.Type) {
			return &Error{Kind: ErrPrimaryNullableReverse, Name: c.Name}
		}

		if c.Nullable && c.Direction == kv.Reverse && !c.Ordered &&
			widthBits(c.Type) < 96 && !reverseSensitive(c.Type) {
			return &Error{Kind: ErrNullableReverseUnordered, Name: c.Name}
		}
	}

	if primaries != 1 {
		return &Error{Kind: ErrPrimaryCount}
	}

	for _, comp := range composites {
		if len(comp.Composite) == 0 {
			continue
		}
		prefix := comp.Composite[0]
		for _, s := range simple {
			if s.Slot == prefix && s.Direction == comp.Direction && s.Unique == comp.Unique && s.Ordered == comp.Ordered {
				return &Error{Kind: ErrSimilarIndex, Name: comp.Name}
			}
		}
	}
	return nil
}

// Columns returns the accumulated declarations in Add order (callers
// re-sort by slot if they need declaration-slot order for storage).
func (cs *ColumnSet) Columns() []ColumnDescriptor {
	return append([]ColumnDescriptor(nil), cs.columns...)
}

func normalizeName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

// validateName implements the name-validity rule.
func validateName(name string, allowDot bool) error {
	if name == "" || len(name) > maxNameLen {
		return &Error{Kind: ErrNameInvalid, Name: name}
	}
	for i, r := range name {
		switch {
		case unicode.IsSpace(r):
			return &Error{Kind: ErrNameInvalid, Name: name}
		case r == '#' || r == '/' || r == '$':
			return &Error{Kind: ErrNameInvalid, Name: name}
		case r == '.' && !allowDot:
			return &Error{Kind: ErrNameInvalid, Name: name}
		case i == 0 && unicode.IsDigit(r):
			return &Error{Kind: ErrNameInvalid, Name: name}
		}
	}
	return nil
}

// ErrKind is schema's local error taxonomy, mapped onto the package-level
// ErrCode enum (NameInvalid, TypeInvalid, SimilarIndex, ...) by the root
// package, which is the only place that knows about table/field context
// formatting.
type ErrKind uint8

const (
	ErrNone ErrKind = iota
	ErrDuplicateSlot
	ErrDuplicateName
	ErrNameInvalid
	ErrPrimaryCount
	ErrPrimaryNullableReverse
	ErrUnorderedWithDirection
	ErrSimilarIndex
	ErrNullableReverseUnordered
	ErrSchemaChanged
	ErrNoIndex
)

type Error struct {
	Kind ErrKind
	Name string
}

func (e *Error) Error() string { return "schema: validation failed for " + e.Name }
