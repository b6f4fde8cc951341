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
	"fmt"

	"github.com/erigontech/tablestore/composite"
	"github.com/erigontech/tablestore/internal/mathutil"
	"github.com/erigontech/tablestore/keycodec"
	"github.com/erigontech/tablestore/kv"
	"github.com/erigontech/tablestore/schema"
	"github.com/erigontech/tablestore/tuple"
)

// secKeyEntry is one secondary index's resolved DBI and encoded key for a
// given row, computed once and reused across the uniqueness probe and the
// write (insert/upsert/update all need the same pair twice).
type secKeyEntry struct {
	col schema.ColumnDescriptor
	dbi kv.DBI
	key []byte
}

// Insert requires the PK to be absent and every unique secondary to be
// absent, or the whole operation fails without writing anything.
func (t *Txn) Insert(td *schema.TableDescriptor, row *tuple.Row) error {
	if err := t.requireLive(); err != nil {
		return err
	}
	if t.kwtx == nil {
		return New(Einval, td.Name, "")
	}
	td, err := t.resolveTable(td)
	if err != nil {
		return err
	}
	pk, ok := td.PKColumn()
	if !ok {
		return Wrap(Eoops, td.Name, "", errNoPrimaryColumn)
	}
	opts := t.db.keyOpts()
	pkKey, err := encodeIndexKey(td, pk, row, opts)
	if err != nil {
		return err
	}
	pkDBI, err := t.dbiFor(td, pk.Slot)
	if err != nil {
		return err
	}
	existing, err := t.kwtx.Get(pkDBI, pkKey)
	if err != nil {
		return Wrap(Eoops, td.Name, "", err)
	}
	if existing != nil {
		t.cancel()
		return New(KeyExists, td.Name, pk.Name)
	}

	secKeys, err := t.secondaryKeys(td, row, opts)
	if err != nil {
		return err
	}
	for _, sk := range secKeys {
		if !sk.col.Unique {
			continue
		}
		v, err := t.kwtx.Get(sk.dbi, sk.key)
		if err != nil {
			return Wrap(Eoops, td.Name, sk.col.Name, err)
		}
		if v != nil {
			t.cancel()
			return New(KeyExists, td.Name, sk.col.Name)
		}
	}

	if err := t.kwtx.Put(pkDBI, pkKey, row.Marshal()); err != nil {
		return Wrap(Eoops, td.Name, "", err)
	}
	for _, sk := range secKeys {
		if err := t.kwtx.Put(sk.dbi, sk.key, pkKey); err != nil {
			return Wrap(Eoops, td.Name, sk.col.Name, err)
		}
	}
	return nil
}

// Upsert lets a PK collision update the row in place, diffing the secondary
// keys of old vs. new (only changed ones move).
func (t *Txn) Upsert(td *schema.TableDescriptor, row *tuple.Row) error {
	return t.put(td, row, false)
}

// Update requires the PK to already exist, failing with NotFound otherwise;
// the secondary diff is identical to Upsert's.
func (t *Txn) Update(td *schema.TableDescriptor, row *tuple.Row) error {
	return t.put(td, row, true)
}

func (t *Txn) put(td *schema.TableDescriptor, row *tuple.Row, requireExisting bool) error {
	if err := t.requireLive(); err != nil {
		return err
	}
	if t.kwtx == nil {
		return New(Einval, td.Name, "")
	}
	td, err := t.resolveTable(td)
	if err != nil {
		return err
	}
	pk, ok := td.PKColumn()
	if !ok {
		return Wrap(Eoops, td.Name, "", errNoPrimaryColumn)
	}
	opts := t.db.keyOpts()
	pkKey, err := encodeIndexKey(td, pk, row, opts)
	if err != nil {
		return err
	}
	pkDBI, err := t.dbiFor(td, pk.Slot)
	if err != nil {
		return err
	}
	oldVal, err := t.kwtx.Get(pkDBI, pkKey)
	if err != nil {
		return Wrap(Eoops, td.Name, "", err)
	}
	if oldVal == nil && requireExisting {
		return New(NotFound, td.Name, pk.Name)
	}
	var oldRow *tuple.Row
	if oldVal != nil {
		oldRow, err = tuple.Unmarshal(oldVal)
		if err != nil {
			return Wrap(Eoops, td.Name, "", err)
		}
	}

	if err := t.diffSecondaries(td, pkKey, oldRow, row, opts); err != nil {
		return err
	}
	if err := t.kwtx.Put(pkDBI, pkKey, row.Marshal()); err != nil {
		return Wrap(Eoops, td.Name, "", err)
	}
	return nil
}

// Delete uses probe-and-delete semantics: the stored row at row's PK must
// match row byte-for-byte, or the op fails.
func (t *Txn) Delete(td *schema.TableDescriptor, row *tuple.Row) error {
	if err := t.requireLive(); err != nil {
		return err
	}
	if t.kwtx == nil {
		return New(Einval, td.Name, "")
	}
	td, err := t.resolveTable(td)
	if err != nil {
		return err
	}
	pk, ok := td.PKColumn()
	if !ok {
		return Wrap(Eoops, td.Name, "", errNoPrimaryColumn)
	}
	opts := t.db.keyOpts()
	pkKey, err := encodeIndexKey(td, pk, row, opts)
	if err != nil {
		return err
	}
	pkDBI, err := t.dbiFor(td, pk.Slot)
	if err != nil {
		return err
	}
	stored, err := t.kwtx.Get(pkDBI, pkKey)
	if err != nil {
		return Wrap(Eoops, td.Name, "", err)
	}
	if stored == nil || !bytes.Equal(stored, row.Marshal()) {
		return New(NotFound, td.Name, pk.Name)
	}
	storedRow, err := tuple.Unmarshal(stored)
	if err != nil {
		return Wrap(Eoops, td.Name, "", err)
	}

	for _, c := range td.Columns {
		if c.Kind != schema.Secondary {
			continue
		}
		dbi, err := t.dbiFor(td, c.Slot)
		if err != nil {
			return err
		}
		key, err := encodeIndexKey(td, c, storedRow, opts)
		if err != nil {
			return err
		}
		if err := t.kwtx.Delete(dbi, key, pkKey); err != nil {
			return Wrap(Eoops, td.Name, c.Name, err)
		}
	}
	if err := t.kwtx.Delete(pkDBI, pkKey, nil); err != nil {
		return Wrap(Eoops, td.Name, "", err)
	}
	return nil
}

// Probe looks a row up by PK without requiring the full row: probeRow
// carries only the PK's component values (a synthetic row, the same way a
// composite key can be derived without ever inserting the row it came
// from); returns NoData if absent.
func (t *Txn) Probe(td *schema.TableDescriptor, probeRow *tuple.Row) (*tuple.Row, error) {
	if err := t.requireLive(); err != nil {
		return nil, err
	}
	td, err := t.resolveTable(td)
	if err != nil {
		return nil, err
	}
	pk, ok := td.PKColumn()
	if !ok {
		return nil, Wrap(Eoops, td.Name, "", errNoPrimaryColumn)
	}
	opts := t.db.keyOpts()
	key, err := encodeIndexKey(td, pk, probeRow, opts)
	if err != nil {
		return nil, err
	}
	dbi, err := t.dbiFor(td, pk.Slot)
	if err != nil {
		return nil, err
	}
	v, err := t.ktx.Get(dbi, key)
	if err != nil {
		return nil, Wrap(Eoops, td.Name, "", err)
	}
	if v == nil {
		return nil, New(NoData, td.Name, pk.Name)
	}
	return tuple.Unmarshal(v)
}

// Sequence reserves the next n integers atomically within the txn. The counter
// lives in the K/V layer's own per-DBI sequence (kv.RwTx.IncrementSequence)
// rather than a separate field re-written into the catalog blob on every
// call, so reserving a range never needs a schema-kind txn (see DESIGN.md).
func (t *Txn) Sequence(td *schema.TableDescriptor, n uint64) (uint64, error) {
	if err := t.requireLive(); err != nil {
		return 0, err
	}
	if t.kwtx == nil {
		return 0, New(Einval, td.Name, "")
	}
	td, err := t.resolveTable(td)
	if err != nil {
		return 0, err
	}
	pk, ok := td.PKColumn()
	if !ok {
		return 0, Wrap(Eoops, td.Name, "", errNoPrimaryColumn)
	}
	dbi, err := t.dbiFor(td, pk.Slot)
	if err != nil {
		return 0, err
	}
	cur, err := t.kwtx.ReadSequence(dbi)
	if err != nil {
		return 0, Wrap(Eoops, td.Name, "", err)
	}
	if _, overflow := mathutil.SafeAdd(cur, n); overflow {
		return 0, New(DbFull, td.Name, "")
	}
	next, err := t.kwtx.IncrementSequence(dbi, n)
	if err != nil {
		return 0, Wrap(Eoops, td.Name, "", err)
	}
	return next, nil
}

// diffSecondaries compares, for each secondary index, the key derived from
// oldRow (if any) against newRow's;
// no-op if equal, delete-then-insert otherwise. The PK used as payload is
// always the new PK, which the caller guarantees is pkKey for both sides
// (upsert/update only ever match an existing row by its own PK).
func (t *Txn) diffSecondaries(td *schema.TableDescriptor, pkKey []byte, oldRow, newRow *tuple.Row, opts keycodec.Options) error {
	for _, c := range td.Columns {
		if c.Kind != schema.Secondary {
			continue
		}
		dbi, err := t.dbiFor(td, c.Slot)
		if err != nil {
			return err
		}
		newKey, err := encodeIndexKey(td, c, newRow, opts)
		if err != nil {
			return err
		}
		var oldKey []byte
		if oldRow != nil {
			oldKey, err = encodeIndexKey(td, c, oldRow, opts)
			if err != nil {
				return err
			}
			if bytes.Equal(oldKey, newKey) {
				continue
			}
		}

		if c.Unique {
			v, err := t.kwtx.Get(dbi, newKey)
			if err != nil {
				return Wrap(Eoops, td.Name, c.Name, err)
			}
			if v != nil && !bytes.Equal(v, pkKey) {
				t.cancel()
				return New(KeyExists, td.Name, c.Name)
			}
		}
		if oldRow != nil {
			if err := t.kwtx.Delete(dbi, oldKey, pkKey); err != nil {
				return Wrap(Eoops, td.Name, c.Name, err)
			}
		}
		if err := t.kwtx.Put(dbi, newKey, pkKey); err != nil {
			return Wrap(Eoops, td.Name, c.Name, err)
		}
	}
	return nil
}

func (t *Txn) secondaryKeys(td *schema.TableDescriptor, row *tuple.Row, opts keycodec.Options) ([]secKeyEntry, error) {
	var out []secKeyEntry
	for _, c := range td.Columns {
		if c.Kind != schema.Secondary {
			continue
		}
		key, err := encodeIndexKey(td, c, row, opts)
		if err != nil {
			return nil, err
		}
		dbi, err := t.dbiFor(td, c.Slot)
		if err != nil {
			return nil, err
		}
		out = append(out, secKeyEntry{col: c, dbi: dbi, key: key})
	}
	return out, nil
}

// EncodeIndexKey derives the on-disk key a given index would hold for row,
// without requiring row to carry a primary key or to ever be inserted --
// the synthetic-row probe helper callers use to build range bounds (see
// AtValue) or to look a value up against a secondary index directly.
func EncodeIndexKey(td *schema.TableDescriptor, col schema.ColumnDescriptor, row *tuple.Row, opts keycodec.Options) ([]byte, error) {
	return encodeIndexKey(td, col, row, opts)
}

// encodeIndexKey resolves one column's index key from row, dispatching to
// the composite builder for virtual columns and to the scalar codec
// otherwise. A missing, non-nullable value fails with ColumnMissing.
func encodeIndexKey(td *schema.TableDescriptor, col schema.ColumnDescriptor, row *tuple.Row, opts keycodec.Options) ([]byte, error) {
	if len(col.Composite) > 0 {
		return encodeCompositeKey(td, col, row, opts)
	}
	v, present := row.GetColumn(col.Slot)
	if !present {
		if !col.Nullable {
			return nil, New(ColumnMissing, td.Name, col.Name)
		}
		v = keycodec.NullValue(col.Type)
	}
	spec := keycodec.IndexSpec{Type: col.Type, Direction: col.Direction, Ordered: col.Ordered, Nullable: col.Nullable}
	key, err := keycodec.Encode(spec, v, opts)
	if err != nil {
		return nil, mapKeycodecErr(td.Name, col.Name, err)
	}
	return key, nil
}

// compositeDescriptor resolves a composite column's component slots into
// composite.Component values, all sharing the composite's own direction --
// a composite column inherits ordered/reverse/unique from its own index
// descriptor, not its components'.
func compositeDescriptor(td *schema.TableDescriptor, col schema.ColumnDescriptor) (composite.Descriptor, []schema.ColumnDescriptor, error) {
	comps := make([]composite.Component, len(col.Composite))
	refs := make([]schema.ColumnDescriptor, len(col.Composite))
	for i, slot := range col.Composite {
		ref, ok := columnBySlot(td, slot)
		if !ok {
			return composite.Descriptor{}, nil, Wrap(Eoops, td.Name, col.Name, fmt.Errorf("tablestore: composite component slot %d not found", slot))
		}
		comps[i] = composite.Component{Type: ref.Type, Direction: col.Direction, Nullable: ref.Nullable}
		refs[i] = ref
	}
	return composite.Descriptor{Components: comps, Ordered: col.Ordered, Tersely: col.Tersely}, refs, nil
}

func encodeCompositeKey(td *schema.TableDescriptor, col schema.ColumnDescriptor, row *tuple.Row, opts keycodec.Options) ([]byte, error) {
	desc, refs, err := compositeDescriptor(td, col)
	if err != nil {
		return nil, err
	}
	values := make([]keycodec.Value, len(refs))
	present := make([]bool, len(refs))
	for i, ref := range refs {
		v, ok := row.GetColumn(ref.Slot)
		values[i] = v
		present[i] = ok
	}
	key, err := composite.Compose(desc, values, present, opts)
	if err != nil {
		if ce, ok := err.(*composite.Error); ok && ce.Kind == composite.ErrColumnMissing {
			return nil, New(ColumnMissing, td.Name, refs[ce.Index].Name)
		}
		return nil, Wrap(Eoops, td.Name, col.Name, err)
	}
	return key, nil
}

// mapKeycodecErr translates keycodec's local ErrKind taxonomy onto the
// public ErrCode enum; only the root package knows the table/field
// context to attach.
func mapKeycodecErr(table, field string, err error) error {
	ke, ok := err.(*keycodec.Error)
	if !ok {
		return Wrap(Eoops, table, field, err)
	}
	switch ke.Kind {
	case keycodec.ErrTypeMismatch:
		return New(TypeMismatch, table, field)
	case keycodec.ErrOutOfDomain:
		return New(OutOfDomain, table, field)
	case keycodec.ErrLengthMismatch:
		return New(LengthMismatch, table, field)
	default:
		return Wrap(Eoops, table, field, err)
	}
}

var errNoPrimaryColumn = fmt.Errorf("tablestore: table descriptor has no primary column")
