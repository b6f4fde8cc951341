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

	"github.com/erigontech/tablestore/keycodec"
	"github.com/erigontech/tablestore/schema"
	"github.com/erigontech/tablestore/tuple"
)

// t2 carries id:u64 primary, col1:u64 secondary unique ordered, col2:u64
// secondary with-dups ordered, col3:u64 secondary unordered.
func createT2(t *testing.T, db *DB) *schema.TableDescriptor {
	t.Helper()
	cs := schema.NewColumnSet()
	require.NoError(t, cs.Add(schema.ColumnDescriptor{Name: "id", Slot: 0, Type: keycodec.U64, Kind: schema.Primary, Unique: true, Ordered: true}))
	require.NoError(t, cs.Add(schema.ColumnDescriptor{Name: "col1", Slot: 1, Type: keycodec.U64, Kind: schema.Secondary, Unique: true, Ordered: true}))
	require.NoError(t, cs.Add(schema.ColumnDescriptor{Name: "col2", Slot: 2, Type: keycodec.U64, Kind: schema.Secondary, Unique: false, Ordered: true}))
	require.NoError(t, cs.Add(schema.ColumnDescriptor{Name: "col3", Slot: 3, Type: keycodec.U64, Kind: schema.Secondary, Unique: false, Ordered: false}))

	txn, err := db.Begin(context.Background(), Schema)
	require.NoError(t, err)
	require.NoError(t, db.CreateTable(txn, "t2", cs))
	require.NoError(t, txn.Commit())

	td, ok := db.TableByName("t2")
	require.True(t, ok)
	return td
}

func t2Row(id, col1, col2, col3 uint64) *tuple.Row {
	b := tuple.NewBuilder()
	b.UpsertColumn(0, keycodec.U64Value(id))
	b.UpsertColumn(1, keycodec.U64Value(col1))
	b.UpsertColumn(2, keycodec.U64Value(col2))
	b.UpsertColumn(3, keycodec.U64Value(col3))
	return b.Finalize()
}

func populateT2(t *testing.T, db *DB, td *schema.TableDescriptor) {
	t.Helper()
	wtx, err := db.Begin(context.Background(), Write)
	require.NoError(t, err)
	for n := uint64(0); n < 42; n++ {
		require.NoError(t, wtx.Insert(td, t2Row(n, n, (n+3)%5, n)))
	}
	require.NoError(t, wtx.Commit())
}

func u64Probe(slot uint16, v uint64) *tuple.Row {
	b := tuple.NewBuilder()
	b.UpsertColumn(slot, keycodec.U64Value(v))
	return b.Finalize()
}

// Scenario 4: filter col_2 == 3 over the full range yields 9 rows.
func TestScenario4CursorFilter(t *testing.T) {
	db := openTestDB(t)
	td := createT2(t, db)
	populateT2(t, db, td)

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	filter := FilterColOp(2, OpEQ, keycodec.U64Value(3))
	cur, err := rtx.OpenCursor(td, "col1", Begin(), End(), CursorOptions{Filter: filter})
	require.NoError(t, err)
	n, err := cur.Count(0)
	require.NoError(t, err)
	require.Equal(t, 9, n)
}

// Scenario 5: cursor update that changes the cursor's own key fails with
// KeyMismatch and leaves the row untouched; a plain update with the same
// new values succeeds and migrates the secondary index.
func TestScenario5CursorUpdateKeyMismatch(t *testing.T) {
	db := openTestDB(t)
	td := createT2(t, db)
	populateT2(t, db, td)

	wtx, err := db.Begin(context.Background(), Write)
	require.NoError(t, err)

	cur, err := wtx.OpenCursor(td, "col1", AtValue(u64Probe(1, 3)), Epsilon(), CursorOptions{})
	require.NoError(t, err)
	require.False(t, cur.Eof())

	err = cur.Update(t2Row(3, 999, 1, 3))
	require.Error(t, err)
	require.True(t, errors.Is(err, KeyMismatch))

	still, err := wtx.Probe(td, u64Probe(0, 3))
	require.NoError(t, err)
	v, _ := still.GetColumn(1)
	require.Equal(t, uint64(3), v.U)

	require.NoError(t, wtx.Update(td, t2Row(3, 999, 1, 3)))
	require.NoError(t, wtx.Commit())

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	oldCur, err := rtx.OpenCursor(td, "col1", AtValue(u64Probe(1, 3)), Epsilon(), CursorOptions{})
	require.NoError(t, err)
	require.True(t, oldCur.Eof())

	newCur, err := rtx.OpenCursor(td, "col1", AtValue(u64Probe(1, 999)), Epsilon(), CursorOptions{})
	require.NoError(t, err)
	require.False(t, newCur.Eof())
}

// Range boundaries: [l, u) counts exactly the in-range rows; a
// zero-length range is empty unless zero-is-point makes it a 1-row probe.
func TestRangeBoundaries(t *testing.T) {
	db := openTestDB(t)
	td := createT2(t, db)
	populateT2(t, db, td)

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	cur, err := rtx.OpenCursor(td, "col1", AtValue(u64Probe(1, 5)), AtValue(u64Probe(1, 10)), CursorOptions{})
	require.NoError(t, err)
	n, err := cur.Count(0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	degenerate, err := rtx.OpenCursor(td, "col1", AtValue(u64Probe(1, 7)), AtValue(u64Probe(1, 7)), CursorOptions{})
	require.NoError(t, err)
	require.True(t, degenerate.Eof())

	point, err := rtx.OpenCursor(td, "col1", AtValue(u64Probe(1, 7)), AtValue(u64Probe(1, 7)), CursorOptions{ZeroLengthIsPoint: true})
	require.NoError(t, err)
	require.False(t, point.Eof())
	pn, err := point.Count(0)
	require.NoError(t, err)
	require.Equal(t, 1, pn)
}

// Begin/epsilon and epsilon/end each pin exactly one row: the first (resp.
// last) row in the cursor's own iteration direction.
func TestBeginEpsilonAndEpsilonEnd(t *testing.T) {
	db := openTestDB(t)
	td := createT2(t, db)
	populateT2(t, db, td)

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	ascFirst, err := rtx.OpenCursor(td, "col1", Begin(), Epsilon(), CursorOptions{})
	require.NoError(t, err)
	require.False(t, ascFirst.Eof())
	n, err := ascFirst.Count(0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	kr, err := ascFirst.Key()
	require.NoError(t, err)
	require.Equal(t, uint64(0), kr.Value.U)

	ascLast, err := rtx.OpenCursor(td, "col1", Epsilon(), End(), CursorOptions{})
	require.NoError(t, err)
	require.False(t, ascLast.Eof())
	n, err = ascLast.Count(0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	kr, err = ascLast.Key()
	require.NoError(t, err)
	require.Equal(t, uint64(41), kr.Value.U)

	descFirst, err := rtx.OpenCursor(td, "col1", Begin(), Epsilon(), CursorOptions{Order: Descending})
	require.NoError(t, err)
	require.False(t, descFirst.Eof())
	kr, err = descFirst.Key()
	require.NoError(t, err)
	require.Equal(t, uint64(41), kr.Value.U)

	descLast, err := rtx.OpenCursor(td, "col1", Epsilon(), End(), CursorOptions{Order: Descending})
	require.NoError(t, err)
	require.False(t, descLast.Eof())
	kr, err = descLast.Key()
	require.NoError(t, err)
	require.Equal(t, uint64(0), kr.Value.U)
}

// Descending cursor with a value upper bound: the bound is exclusive, so
// when the upper value itself exists in the store the scan must still
// start one row below it, not land on it and report the range empty.
func TestDescendingValueUpperBoundExcludesBound(t *testing.T) {
	db := openTestDB(t)
	td := createT2(t, db)
	populateT2(t, db, td)

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	cur, err := rtx.OpenCursor(td, "col1", Begin(), AtValue(u64Probe(1, 10)), CursorOptions{Order: Descending})
	require.NoError(t, err)
	require.False(t, cur.Eof())

	kr, err := cur.Key()
	require.NoError(t, err)
	require.Equal(t, uint64(9), kr.Value.U, "upper bound 10 is exclusive; descending scan starts at 9")

	n, err := cur.Count(0)
	require.NoError(t, err)
	require.Equal(t, 10, n, "rows 0..9")
}

// Unordered rejection: a bounded range on an unordered index is NoIndex.
func TestUnorderedRangeRejected(t *testing.T) {
	db := openTestDB(t)
	td := createT2(t, db)
	populateT2(t, db, td)

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	_, err = rtx.OpenCursor(td, "col3", AtValue(u64Probe(3, 0)), AtValue(u64Probe(3, 5)), CursorOptions{})
	require.Error(t, err)
	require.True(t, errors.Is(err, NoIndex))

	full, err := rtx.OpenCursor(td, "col3", Begin(), End(), CursorOptions{})
	require.NoError(t, err)
	n, err := full.Count(0)
	require.NoError(t, err)
	require.Equal(t, 42, n)
}

// Cursor monotonicity: ascending keys are non-decreasing, descending
// keys are non-increasing.
func TestCursorMonotonicity(t *testing.T) {
	db := openTestDB(t)
	td := createT2(t, db)
	populateT2(t, db, td)

	rtx, err := db.Begin(context.Background(), ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()

	asc, err := rtx.OpenCursor(td, "col1", Begin(), End(), CursorOptions{Order: Ascending})
	require.NoError(t, err)
	var prev uint64
	first := true
	for !asc.Eof() {
		row, err := asc.Get()
		require.NoError(t, err)
		v, _ := row.GetColumn(1)
		if !first {
			require.GreaterOrEqual(t, v.U, prev)
		}
		prev, first = v.U, false
		require.NoError(t, asc.Move(MoveNext))
	}

	desc, err := rtx.OpenCursor(td, "col1", Begin(), End(), CursorOptions{Order: Descending})
	require.NoError(t, err)
	first = true
	for !desc.Eof() {
		row, err := desc.Get()
		require.NoError(t, err)
		v, _ := row.GetColumn(1)
		if !first {
			require.LessOrEqual(t, v.U, prev)
		}
		prev, first = v.U, false
		require.NoError(t, desc.Move(MovePrev))
	}
}
