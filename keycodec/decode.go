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
	"encoding/binary"

	"github.com/erigontech/tablestore/kv"
)

// Decode recovers the original value from a key, where that's lossless:
// integers, datetime, and fixed-size binaries under Obverse direction
// Variable-length, Reverse-direction, or long-hashed keys are not
// decodable here; callers fall back to the row payload.
func Decode(spec IndexSpec, key []byte) (Value, bool) {
	if spec.Direction == kv.Reverse {
		return Value{}, false
	}
	switch spec.Type {
	case U16, U32, U64, Datetime:
		width, _ := spec.Type.FixedWidth()
		if len(key) != width {
			return Value{}, false
		}
		bits := beUint(key)
		if spec.Nullable && isDenilBits(width, bits, spec.Direction) {
			return NullValue(spec.Type), true
		}
		return Value{Type: spec.Type, U: bits}, true
	case I32, I64:
		width, _ := spec.Type.FixedWidth()
		if len(key) != width {
			return Value{}, false
		}
		bits := beUint(key)
		if spec.Nullable && isDenilBits(width, bits, spec.Direction) {
			return NullValue(spec.Type), true
		}
		signed := int64(bits) - int64(uint64(1)<<(uint(width)*8-1))
		return Value{Type: spec.Type, I: signed}, true
	case Bin96, Bin128, Bin160, Bin256:
		width, _ := spec.Type.FixedWidth()
		if len(key) != width {
			return Value{}, false
		}
		if spec.Nullable && allZero(key) {
			return NullValue(spec.Type), true
		}
		out := make([]byte, width)
		copy(out, key)
		return Value{Type: spec.Type, Bytes: out}, true
	default:
		// F32/F64: technically invertible (the ordering bit-flip is its own
		// inverse) but intentionally not exposed -- floats round-trip
		// through the row payload, and decoding a DENIL-vs-real-NaN key
		// back to a value is exactly the ambiguity decoding deliberately
		// avoids by restricting itself to lossless types.
		return Value{}, false
	}
}

func beUint(b []byte) uint64 {
	switch len(b) {
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	case 8:
		return binary.BigEndian.Uint64(b)
	default:
		return 0
	}
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
