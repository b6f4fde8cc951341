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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/tablestore/config"
	"github.com/erigontech/tablestore/keycodec"
	"github.com/erigontech/tablestore/kv"
	"github.com/erigontech/tablestore/schema"
	"github.com/erigontech/tablestore/tuple"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(kv.NewMemEnv(), config.Default())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

// t1 is the scenario-1 table: pk:cstr primary unique, a:u64 secondary
// with-dups, b:f64 no-index.
func createT1(t *testing.T, db *DB) *schema.TableDescriptor {
	t.Helper()
	cs := schema.NewColumnSet()
	require.NoError(t, cs.Add(schema.ColumnDescriptor{Name: "pk", Slot: 0, Type: keycodec.CStrVar, Kind: schema.Primary, Unique: true, Ordered: true}))
	require.NoError(t, cs.Add(schema.ColumnDescriptor{Name: "a", Slot: 1, Type: keycodec.U64, Kind: schema.Secondary, Unique: false, Ordered: true}))
	require.NoError(t, cs.Add(schema.ColumnDescriptor{Name: "b", Slot: 2, Type: keycodec.F64, Kind: schema.NotIndexed}))

	txn, err := db.Begin(context.Background(), Schema)
	require.NoError(t, err)
	require.NoError(t, db.CreateTable(txn, "t1", cs))
	require.NoError(t, txn.Commit())

	td, ok := db.TableByName("t1")
	require.True(t, ok)
	return td
}

func t1Row(pk string, a uint64, b float64) *tuple.Row {
	bld := tuple.NewBuilder()
	bld.UpsertColumn(0, keycodec.CStrValue(pk))
	bld.UpsertColumn(1, keycodec.U64Value(a))
	bld.UpsertColumn(2, keycodec.F64Value(b))
	return bld.Finalize()
}

// Scenario 1: insert two rows, cursor on pk returns first/last/count.
func TestScenario1CursorFirstLastCount(t *testing.T) {
	db := openTestDB(t)
	td := createT1(t, db)

	wtx, err := db.Begin(context.Background(), Write)
	require.NoError(t, err)
	require.NoError(t, wtx.Insert(td, t1Row("pk-string", 34, 56.78)))
	require.NoError(t, wtx.Insert(td, t1Row("zzz", 90, 12.34)))
	require.NoError(t, wtx.Commit())

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	cur, err := rtx.OpenCursor(td, "pk", Begin(), End(), CursorOptions{})
	require.NoError(t, err)
	first, err := cur.Get()
	require.NoError(t, err)
	v, _ := first.GetColumn(0)
	require.Equal(t, "pk-string", string(v.Bytes))

	require.NoError(t, cur.Move(MoveLast))
	last, err := cur.Get()
	require.NoError(t, err)
	v, _ = last.GetColumn(0)
	require.Equal(t, "zzz", string(v.Bytes))

	require.NoError(t, cur.Move(MoveFirst))
	n, err := cur.Count(0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func compositeRow(b uint64, a string, c float64) *tuple.Row {
	bld := tuple.NewBuilder()
	bld.UpsertColumn(0, keycodec.U64Value(b))
	bld.UpsertColumn(1, keycodec.CStrValue(a))
	bld.UpsertColumn(2, keycodec.F64Value(c))
	return bld.Finalize()
}

func createCompositePKTable(t *testing.T, db *DB) *schema.TableDescriptor {
	t.Helper()
	cs := schema.NewColumnSet()
	require.NoError(t, cs.Add(schema.ColumnDescriptor{Name: "b", Slot: 0, Type: keycodec.U64}))
	require.NoError(t, cs.Add(schema.ColumnDescriptor{Name: "a", Slot: 1, Type: keycodec.CStrVar}))
	require.NoError(t, cs.Add(schema.ColumnDescriptor{Name: "c", Slot: 2, Type: keycodec.F64}))
	require.NoError(t, cs.Add(schema.ColumnDescriptor{
		Name: "pk", Slot: 3, Kind: schema.Primary, Unique: true, Ordered: true,
		Composite: []uint16{0, 1, 2},
	}))

	txn, err := db.Begin(context.Background(), Schema)
	require.NoError(t, err)
	require.NoError(t, db.CreateTable(txn, "composite_pk", cs))
	require.NoError(t, txn.Commit())

	td, ok := db.TableByName("composite_pk")
	require.True(t, ok)
	return td
}

// Scenario 2: composite PK probe hits and misses.
func TestScenario2CompositePKProbe(t *testing.T) {
	db := openTestDB(t)
	td := createCompositePKTable(t, db)

	wtx, err := db.Begin(context.Background(), Write)
	require.NoError(t, err)
	require.NoError(t, wtx.Insert(td, compositeRow(34, "string", 56.78)))
	require.NoError(t, wtx.Commit())

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	hit, err := rtx.Probe(td, compositeRow(34, "string", 56.78))
	require.NoError(t, err)
	v, _ := hit.GetColumn(0)
	require.Equal(t, uint64(34), v.U)

	_, err = rtx.Probe(td, compositeRow(90, "string", 56.78))
	require.Error(t, err)
	require.True(t, errors.Is(err, NoData))
}

// Scenario 6: writer cancellation after a duplicate-PK insert. The two
// initial rows come from an already-committed txn, so aborting the
// cancelled txn (which staged nothing durable) leaves them untouched.
func TestScenario6WriterCancellation(t *testing.T) {
	db := openTestDB(t)
	td := createT1(t, db)

	seed, err := db.Begin(context.Background(), Write)
	require.NoError(t, err)
	require.NoError(t, seed.Insert(td, t1Row("one", 1, 1.0)))
	require.NoError(t, seed.Insert(td, t1Row("two", 2, 2.0)))
	require.NoError(t, seed.Commit())

	wtx, err := db.Begin(context.Background(), Write)
	require.NoError(t, err)
	err = wtx.Insert(td, t1Row("one", 99, 99.0))
	require.Error(t, err)
	require.True(t, errors.Is(err, KeyExists))

	err = wtx.Insert(td, t1Row("three", 3, 3.0))
	require.Error(t, err)
	require.True(t, errors.Is(err, TxnCancelled))

	wtx.Abort()

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()
	cur, err := rtx.OpenCursor(td, "pk", Begin(), End(), CursorOptions{})
	require.NoError(t, err)
	n, err := cur.Count(0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

// EncodeIndexKey derives a secondary key from a synthetic probe row without
// ever inserting it, matching what AtValue does internally for positioning.
func TestEncodeIndexKeyFromSyntheticRow(t *testing.T) {
	db := openTestDB(t)
	td := createT1(t, db)
	a, ok := td.ColumnByName("a")
	require.True(t, ok)

	probe := tuple.NewBuilder()
	probe.UpsertColumn(1, keycodec.U64Value(34))
	k1, err := EncodeIndexKey(td, a, probe.Finalize(), db.keyOpts())
	require.NoError(t, err)

	k2, err := EncodeIndexKey(td, a, t1Row("pk-string", 34, 56.78), db.keyOpts())
	require.NoError(t, err)
	require.Equal(t, k1, k2, "the same column value yields the same key regardless of the rest of the row")
}

// Sequence reserves disjoint, monotonically increasing ranges.
func TestSequenceReservesDisjointRanges(t *testing.T) {
	db := openTestDB(t)
	td := createT1(t, db)

	wtx, err := db.Begin(context.Background(), Write)
	require.NoError(t, err)

	first, err := wtx.Sequence(td, 5)
	require.NoError(t, err)
	second, err := wtx.Sequence(td, 3)
	require.NoError(t, err)
	require.Equal(t, first+5, second)

	require.NoError(t, wtx.Commit())
}

// Updating a row must keep every secondary index consistent with the new values.
func TestSecondaryIntegrityUnderUpdate(t *testing.T) {
	db := openTestDB(t)
	td := createT1(t, db)

	wtx, err := db.Begin(context.Background(), Write)
	require.NoError(t, err)
	require.NoError(t, wtx.Insert(td, t1Row("x", 10, 1.5)))
	require.NoError(t, wtx.Commit())

	wtx2, err := db.Begin(context.Background(), Write)
	require.NoError(t, err)
	require.NoError(t, wtx2.Update(td, t1Row("x", 20, 1.5)))
	require.NoError(t, wtx2.Commit())

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	oldProbe := tuple.NewBuilder()
	oldProbe.UpsertColumn(1, keycodec.U64Value(10))
	curOld, err := rtx.OpenCursor(td, "a", AtValue(oldProbe.Finalize()), Epsilon(), CursorOptions{})
	require.NoError(t, err)
	require.True(t, curOld.Eof())

	newProbe := tuple.NewBuilder()
	newProbe.UpsertColumn(1, keycodec.U64Value(20))
	curNew, err := rtx.OpenCursor(td, "a", AtValue(newProbe.Finalize()), Epsilon(), CursorOptions{})
	require.NoError(t, err)
	require.False(t, curNew.Eof())
}
