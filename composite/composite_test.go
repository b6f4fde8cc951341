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

package composite

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/tablestore/keycodec"
	"github.com/erigontech/tablestore/kv"
)

func opts() keycodec.Options { return keycodec.Options{MaxKeyLen: 511, FloatPolicy: keycodec.Strict} }

func TestComposeDeterministicAndIsolated(t *testing.T) {
	d := Descriptor{Ordered: true, Components: []Component{
		{Type: keycodec.U64},
		{Type: keycodec.CStrVar},
		{Type: keycodec.F64},
	}}
	vals := []keycodec.Value{
		keycodec.U64Value(34),
		keycodec.CStrValue("string"),
		keycodec.F64Value(56.78),
	}
	present := []bool{true, true, true}

	k1, err := Compose(d, vals, present, opts())
	require.NoError(t, err)
	k2, err := Compose(d, vals, present, opts())
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	// Building an unrelated value between calls leaves the key unchanged:
	// Compose keeps no state from one call to the next.
	_ = keycodec.U64Value(999)
	k3, err := Compose(d, vals, present, opts())
	require.NoError(t, err)
	require.Equal(t, k1, k3)
}

func TestComposeMissingRequiredComponent(t *testing.T) {
	d := Descriptor{Ordered: true, Components: []Component{
		{Type: keycodec.U64, Nullable: false},
		{Type: keycodec.CStrVar},
	}}
	present := []bool{false, true}
	vals := []keycodec.Value{{}, keycodec.CStrValue("x")}
	_, err := Compose(d, vals, present, opts())
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, ErrColumnMissing, e.Kind)
}

func TestTerselyGreaterKeyOnPresentComponent(t *testing.T) {
	d := Descriptor{Ordered: true, Tersely: true, Components: []Component{
		{Type: keycodec.U32, Nullable: true},
		{Type: keycodec.U32, Nullable: true},
	}}
	row1Present := []bool{true, false}
	row1Vals := []keycodec.Value{keycodec.U32Value(5), {}}
	k1, err := Compose(d, row1Vals, row1Present, opts())
	require.NoError(t, err)

	row2Present := []bool{true, true}
	row2Vals := []keycodec.Value{keycodec.U32Value(5), keycodec.U32Value(1)}
	k2, err := Compose(d, row2Vals, row2Present, opts())
	require.NoError(t, err)

	require.True(t, bytes.Compare(k1, k2) < 0, "present component must sort after absent under obverse DENIL placement")
}

// A present-but-explicitly-null component must encode the same DENIL
// sentinel as an omitted one, not the type's zero value.
func TestComposePresentNullMatchesAbsent(t *testing.T) {
	d := Descriptor{Ordered: true, Components: []Component{
		{Type: keycodec.U16, Nullable: true},
		{Type: keycodec.CStrVar},
	}}
	omitted, err := Compose(d, []keycodec.Value{{}, keycodec.CStrValue("x")}, []bool{false, true}, opts())
	require.NoError(t, err)

	explicitNull, err := Compose(d, []keycodec.Value{keycodec.NullValue(keycodec.U16), keycodec.CStrValue("x")}, []bool{true, true}, opts())
	require.NoError(t, err)

	require.Equal(t, omitted, explicitNull)

	real, err := Compose(d, []keycodec.Value{keycodec.U16Value(7), keycodec.CStrValue("x")}, []bool{true, true}, opts())
	require.NoError(t, err)
	require.NotEqual(t, explicitNull, real)
}

// An explicit null on a non-nullable component fails, matching the
// scalar codec's rule.
func TestComposePresentNullRejectedWhenNotNullable(t *testing.T) {
	d := Descriptor{Ordered: true, Components: []Component{
		{Type: keycodec.U16, Nullable: false},
	}}
	_, err := Compose(d, []keycodec.Value{keycodec.NullValue(keycodec.U16)}, []bool{true}, opts())
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, ErrColumnMissing, e.Kind)
}

func TestUnorderedCompositeIsDigest(t *testing.T) {
	d := Descriptor{Ordered: false, Components: []Component{
		{Type: keycodec.U32}, {Type: keycodec.U32},
	}}
	k, err := Compose(d, []keycodec.Value{keycodec.U32Value(1), keycodec.U32Value(2)}, []bool{true, true}, opts())
	require.NoError(t, err)
	require.Len(t, k, 8)
}

func TestCompositeReverseComponentPhysicallyReversed(t *testing.T) {
	d := Descriptor{Ordered: true, Components: []Component{
		{Type: keycodec.Bin96, Direction: kv.Reverse},
	}}
	b := make([]byte, 12)
	for i := range b {
		b[i] = byte(i)
	}
	k, err := Compose(d, []keycodec.Value{keycodec.BinValue(keycodec.Bin96, b)}, []bool{true}, opts())
	require.NoError(t, err)
	for i := range b {
		require.Equal(t, b[len(b)-1-i], k[i])
	}
}
