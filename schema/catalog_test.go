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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/tablestore/keycodec"
	"github.com/erigontech/tablestore/kv"
)

func baseColumns() []ColumnDescriptor {
	return []ColumnDescriptor{
		{Name: "id", Slot: 0, Type: keycodec.U64, Kind: Primary, Unique: true, Ordered: true},
		{Name: "name", Slot: 1, Type: keycodec.CStrVar, Kind: Secondary, Unique: false, Ordered: true},
	}
}

func TestFingerprintStableUnderReorderFreeEdit(t *testing.T) {
	cols := baseColumns()
	fp1 := Fingerprint("t1", cols)
	fp2 := Fingerprint("t1", cols)
	require.Equal(t, fp1, fp2)
}

func TestFingerprintIgnoresSlotNumbering(t *testing.T) {
	cols := baseColumns()
	fp1 := Fingerprint("t1", cols)
	reslotted := append([]ColumnDescriptor(nil), cols...)
	reslotted[0].Slot = 5
	reslotted[1].Slot = 6
	fp2 := Fingerprint("t1", reslotted)
	require.Equal(t, fp1, fp2)
}

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	td := &TableDescriptor{
		Name:        "t1",
		Columns:     baseColumns(),
		Fingerprint: Fingerprint("t1", baseColumns()),
		Sequence:    42,
		Epoch:       3,
	}
	b, err := EncodeRecord(td)
	require.NoError(t, err)

	back, err := DecodeRecord(b)
	require.NoError(t, err)
	require.Equal(t, td.Name, back.Name)
	require.Equal(t, td.Fingerprint, back.Fingerprint)
	require.Equal(t, td.Sequence, back.Sequence)
	require.Equal(t, td.Epoch, back.Epoch)
	require.Equal(t, td.Columns, back.Columns)
}

func TestSubDBNameDeterministic(t *testing.T) {
	td := &TableDescriptor{Name: "t1", Fingerprint: Fingerprint("t1", baseColumns())}
	n1 := td.SubDBName(0)
	n2 := td.SubDBName(0)
	require.Equal(t, n1, n2)
	require.NotEqual(t, n1, td.SubDBName(1))
}

func TestColumnSetExactlyOnePrimary(t *testing.T) {
	cs := NewColumnSet()
	require.NoError(t, cs.Add(ColumnDescriptor{Name: "id", Slot: 0, Type: keycodec.U64, Kind: Primary, Unique: true, Ordered: true}))
	require.NoError(t, cs.Add(ColumnDescriptor{Name: "id2", Slot: 1, Type: keycodec.U64, Kind: Primary, Unique: true, Ordered: true}))
	err := cs.Validate(false)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, ErrPrimaryCount, e.Kind)
}

func TestColumnSetRejectsUnorderedWithDirection(t *testing.T) {
	cs := NewColumnSet()
	require.NoError(t, cs.Add(ColumnDescriptor{Name: "id", Slot: 0, Type: keycodec.U64, Kind: Primary, Unique: true, Ordered: true}))
	require.NoError(t, cs.Add(ColumnDescriptor{Name: "h", Slot: 1, Type: keycodec.U32, Kind: Secondary, Ordered: false, Direction: kv.Reverse}))
	err := cs.Validate(false)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, ErrUnorderedWithDirection, e.Kind)
}

func TestColumnSetRejectsBadNames(t *testing.T) {
	cs := NewColumnSet()
	err := cs.Add(ColumnDescriptor{Name: "ok", Slot: 0})
	require.NoError(t, err)
	err = cs.Validate(false)
	// no primary declared -> ErrPrimaryCount, not a name error; add a bad name instead
	require.Error(t, err)

	cs2 := NewColumnSet()
	require.NoError(t, cs2.Add(ColumnDescriptor{Name: "id", Slot: 0, Kind: Primary, Unique: true, Ordered: true}))
	require.NoError(t, cs2.Add(ColumnDescriptor{Name: "1bad", Slot: 1, Kind: Secondary, Ordered: true}))
	err = cs2.Validate(false)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, ErrNameInvalid, e.Kind)
}

func TestColumnSetAllowsDotOnlyWhenDialectEnabled(t *testing.T) {
	cs := NewColumnSet()
	require.NoError(t, cs.Add(ColumnDescriptor{Name: "id", Slot: 0, Kind: Primary, Unique: true, Ordered: true}))
	require.NoError(t, cs.Add(ColumnDescriptor{Name: "a.b", Slot: 1, Kind: Secondary, Ordered: true}))
	require.Error(t, cs.Validate(false))
	require.NoError(t, cs.Validate(true))
}

func TestColumnSetSimilarIndexRedundancy(t *testing.T) {
	cs := NewColumnSet()
	require.NoError(t, cs.Add(ColumnDescriptor{Name: "id", Slot: 0, Type: keycodec.U64, Kind: Primary, Unique: true, Ordered: true}))
	require.NoError(t, cs.Add(ColumnDescriptor{Name: "a", Slot: 1, Type: keycodec.U32, Kind: Secondary, Unique: false, Ordered: true}))
	require.NoError(t, cs.Add(ColumnDescriptor{
		Name: "a_b_composite", Slot: 2, Kind: Secondary, Unique: false, Ordered: true,
		Composite: []uint16{1, 3},
	}))
	err := cs.Validate(false)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, ErrSimilarIndex, e.Kind)
}

func TestColumnSetDuplicateSlotRejected(t *testing.T) {
	cs := NewColumnSet()
	require.NoError(t, cs.Add(ColumnDescriptor{Name: "id", Slot: 0}))
	err := cs.Add(ColumnDescriptor{Name: "other", Slot: 0})
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, ErrDuplicateSlot, e.Kind)
}
