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

// Lookup is what a runtime name handle needs from whatever holds the
// catalog as seen by the current txn: a name resolver and the schema
// epoch that view was taken at. The root package's txn manager implements
// this over its in-memory catalog cache; schema itself never touches a
// kv.Tx -- refresh is phrased purely in terms of the catalog as seen by
// the txn.
type Lookup interface {
	TableByName(name string) (*TableDescriptor, bool)
	Epoch() uint64
}

// Handle is a runtime name handle: inert until Refresh binds it inside a
// txn, and stale once the schema epoch it observed falls behind the
// current one.
type Handle struct {
	Name string

	bound bool
	epoch uint64
	table *TableDescriptor
	col   ColumnDescriptor
}

// NewHandle creates an inert handle from a symbolic name. Comparison
// against the catalog is case-insensitive, byte-for-byte otherwise.
func NewHandle(name string) *Handle { return &Handle{Name: name} }

// Refresh resolves the handle against l's current view, recording the
// schema epoch it was resolved in. column may be empty to bind the
// handle to the table itself (used by table-level operations); non-empty
// to additionally resolve one column's slot/type/index descriptor.
func (h *Handle) Refresh(l Lookup, column string) error {
	t, ok := l.TableByName(h.Name)
	if !ok {
		return &Error{Kind: ErrNoIndex, Name: h.Name}
	}
	h.table = t
	h.epoch = l.Epoch()
	h.bound = true
	if column == "" {
		h.col = ColumnDescriptor{}
		return nil
	}
	c, ok := t.ColumnByName(column)
	if !ok {
		return &Error{Kind: ErrNoIndex, Name: column}
	}
	h.col = c
	return nil
}

// Validate returns ErrNoIndex if the handle was never bound, and
// SchemaChanged if its observed epoch no longer matches l's current one,
// so the caller knows to re-refresh.
func (h *Handle) Validate(l Lookup) error {
	if !h.bound {
		return &Error{Kind: ErrNoIndex, Name: h.Name}
	}
	if l.Epoch() != h.epoch {
		return &Error{Kind: ErrSchemaChanged, Name: h.Name}
	}
	return nil
}

// Table returns the resolved table descriptor; only valid after a
// successful Refresh and while Validate still passes.
func (h *Handle) Table() *TableDescriptor { return h.table }

// Column returns the resolved column descriptor, if Refresh was given a
// column name.
func (h *Handle) Column() ColumnDescriptor { return h.col }

// Epoch returns the schema epoch this handle was last refreshed against.
func (h *Handle) Epoch() uint64 { return h.epoch }
