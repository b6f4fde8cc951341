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

package keycodec

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/tablestore/kv"
)

func opts() Options { return Options{MaxKeyLen: 511, FloatPolicy: Strict} }

func TestUintOrder(t *testing.T) {
	spec := IndexSpec{Type: U32, Direction: kv.Obverse, Ordered: true}
	vals := []uint32{0, 1, 2, 1000, math.MaxUint32 - 1, math.MaxUint32}
	var prev []byte
	for i, v := range vals {
		k, err := Encode(spec, U32Value(v), opts())
		require.NoError(t, err)
		if i > 0 {
			require.True(t, bytes.Compare(prev, k) < 0, "expected %v < %v", vals[i-1], v)
		}
		prev = k
	}
}

func TestIntOrderAndOutOfDomain(t *testing.T) {
	spec := IndexSpec{Type: I32, Direction: kv.Obverse, Ordered: true}
	vals := []int32{math.MinInt32, -1000, -1, 0, 1, 1000, math.MaxInt32}
	var prev []byte
	for i, v := range vals {
		k, err := Encode(spec, I32Value(v), opts())
		require.NoError(t, err)
		if i > 0 {
			require.True(t, bytes.Compare(prev, k) < 0)
		}
		prev = k
	}

	_, err := encodeUint(1<<20, 2, kv.Obverse)
	require.Error(t, err)
}

func TestFloatTotalOrder(t *testing.T) {
	spec := IndexSpec{Type: F64, Direction: kv.Obverse, Ordered: true}
	vals := []float64{
		math.Inf(-1), -1e300, -1, -0.0001, 0, 0.0001, 1, 1e300, math.Inf(1),
	}
	var prev []byte
	for i, v := range vals {
		k, err := Encode(spec, F64Value(v), opts())
		require.NoError(t, err)
		if i > 0 {
			require.True(t, bytes.Compare(prev, k) <= 0, "index %d: %v vs %v", i, vals[i-1], v)
		}
		prev = k
	}
}

func TestF32OverflowAndPrecision(t *testing.T) {
	spec := IndexSpec{Type: F32, Direction: kv.Obverse, Ordered: true}
	_, err := Encode(spec, F64Value(1e300), opts())
	require.Error(t, err)

	// A value exactly representable in float32 passes under Strict.
	_, err = Encode(spec, F64Value(1.5), opts())
	require.NoError(t, err)

	// A value that loses mantissa bits fails under Strict, succeeds under Lax.
	lossy := 1.0 + 1e-15
	_, err = Encode(spec, F64Value(lossy), opts())
	require.Error(t, err)
	_, err = Encode(spec, F64Value(lossy), Options{MaxKeyLen: 511, FloatPolicy: Lax})
	require.NoError(t, err)
}

func TestNullablePlacement(t *testing.T) {
	obverse := IndexSpec{Type: U64, Direction: kv.Obverse, Ordered: true, Nullable: true}
	nullKey, err := Encode(obverse, NullValue(U64), opts())
	require.NoError(t, err)
	minKey, err := Encode(obverse, U64Value(0+1), opts()) // 0 is reserved by DENIL
	require.NoError(t, err)
	require.True(t, bytes.Compare(nullKey, minKey) < 0)

	reverse := IndexSpec{Type: U64, Direction: kv.Reverse, Ordered: true, Nullable: true}
	nullKeyR, err := Encode(reverse, NullValue(U64), opts())
	require.NoError(t, err)
	maxKeyR, err := Encode(reverse, U64Value(math.MaxUint64-1), opts())
	require.NoError(t, err)
	// Under the reverse comparator, all-0xFF sorts last regardless of the
	// physical bytes compared; plain memcmp over these fixed-width,
	// same-length buffers agrees since every byte of the sentinel is max.
	require.True(t, bytes.Compare(maxKeyR, nullKeyR) < 0)
}

func TestLongKeyTruncationDeterministic(t *testing.T) {
	spec := IndexSpec{Type: CStrVar, Direction: kv.Obverse, Ordered: true}
	long := bytes.Repeat([]byte("a"), 1000)
	k1, err := Encode(spec, CStrValue(string(long)), opts())
	require.NoError(t, err)
	require.Len(t, k1, 511)

	k2, err := Encode(spec, CStrValue(string(long)), opts())
	require.NoError(t, err)
	require.Equal(t, k1, k2, "determinism: identical input must yield identical key")

	longer := append(append([]byte{}, long...), []byte("DIFFERENT-SUFFIX")...)
	k3, err := Encode(spec, CStrValue(string(longer)), opts())
	require.NoError(t, err)
	require.Len(t, k3, 511)
	require.NotEqual(t, k1, k3, "differing suffix beyond the shared prefix must (whp) differ")
	require.Equal(t, k1[:511-8], k3[:511-8], "shared prefix bytes must be preserved verbatim")
}

func TestFixedBinLengthMismatch(t *testing.T) {
	spec := IndexSpec{Type: Bin96, Direction: kv.Obverse, Ordered: true}
	_, err := Encode(spec, BinValue(Bin96, make([]byte, 10)), opts())
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, ErrLengthMismatch, e.Kind)
}

func TestDecodeRoundTripIntegers(t *testing.T) {
	spec := IndexSpec{Type: U32, Direction: kv.Obverse, Ordered: true}
	k, err := Encode(spec, U32Value(424242), opts())
	require.NoError(t, err)
	v, ok := Decode(spec, k)
	require.True(t, ok)
	require.Equal(t, uint64(424242), v.U)
}
