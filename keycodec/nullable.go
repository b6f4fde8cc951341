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

import "github.com/erigontech/tablestore/kv"

// encodeNull implements DENIL placement: a nullable fixed-width
// value (integer, float, or fixed-size binary) encodes NULL as the
// all-zero byte string under Obverse direction (strictly less than any
// non-null encoding under plain memcmp) or the all-0xFF byte string under
// Reverse direction (strictly greater than any non-null encoding under the
// reversed-byte comparator kv.Comparators installs for Reverse indexes --
// see kv/comparator.go). Both sentinels are themselves one representable
// bit pattern of the type's domain (e.g. the all-ones NaN for floats), so
// -- exactly like an integer DENIL -- that single pattern becomes
// unavailable to real data once a column is declared nullable; this is the
// same trade made for the canonical integer case,
// generalized uniformly to every fixed-width type rather than re-deriving
// a distinct boundary value per type's own encoding transform.
//
// Variable-length values (bin_var, cstr_var) instead encode NULL as an
// empty byte string (Obverse) or a single out-of-band marker byte that
// cannot appear as a prefix of any reversed, truncated real value
// (Reverse).
func encodeNull(spec IndexSpec, opts Options) ([]byte, error) {
	if width, fixed := spec.Type.FixedWidth(); fixed {
		buf := make([]byte, width)
		if spec.Direction == kv.Reverse {
			for i := range buf {
				buf[i] = 0xFF
			}
		}
		return buf, nil
	}
	if spec.Direction == kv.Reverse {
		return []byte{0xFF}, nil
	}
	return []byte{}, nil
}

// isDenilBits reports whether a decoded raw value (before Null-flag handling)
// equals the DENIL sentinel for a fixed-width type/direction, given the
// raw value already decoded as an unsigned big-endian quantity of the
// right width. Used by Decode to recognize NULL on the way back out.
func isDenilBits(width int, bits uint64, dir kv.Direction) bool {
	max := uint64(1)<<(uint(width)*8) - 1
	if width == 8 {
		max = ^uint64(0)
	}
	if dir == kv.Reverse {
		return bits == max
	}
	return bits == 0
}
