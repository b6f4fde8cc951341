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

package kv

import "bytes"

// Direction is the ordering direction a comparator enforces, component
// D's (type, direction, ordered?) dispatch key (the "type" axis doesn't
// actually change which comparator function runs -- every fixed-width
// type's key is already laid out in the encoding, so only direction and
// orderedness select a comparator).
type Direction uint8

const (
	Obverse Direction = iota
	Reverse
)

// Signature identifies which comparator a previously-opened DBI is using,
// so Env.OpenDBI can refuse to reopen a sub-DB under a different one: a
// pre-existing sub-DB whose recorded comparator signature disagrees with
// what the current schema would require can never be rebound.
type Signature uint8

const (
	SigObverseMemcmp Signature = iota
	SigReverseMemcmp
	SigUnordered
	SigCompositeMemcmp
	SigDupPayload // secondary sub-DB's dup-payload comparator: the table's PK comparator
)

// Comparators returns the (key comparator, dup-payload comparator) pair
// for a sub-DB given its direction and whether it's range-queryable.
// pkCmp is the PK index's own comparator, used verbatim as the dup-payload
// comparator for any secondary sub-DB.
func Comparators(dir Direction, ordered bool, pkCmp Comparator) (key Comparator, dup Comparator, sig Signature) {
	if !ordered {
		return bytes.Compare, pkCmp, SigUnordered
	}
	if dir == Reverse {
		return reverseMemcmp, pkCmp, SigReverseMemcmp
	}
	return bytes.Compare, pkCmp, SigObverseMemcmp
}

// CompositeComparator is always a raw memcmp: the composite builder
// already bakes the intended order into the byte string.
func CompositeComparator() (key Comparator, sig Signature) {
	return bytes.Compare, SigCompositeMemcmp
}

// ErrComparatorMismatch is returned by Env.OpenDBI when a pre-existing
// sub-DB's recorded Signature disagrees with the one the current schema
// requires.
var ErrComparatorMismatch = errComparatorMismatch{}

type errComparatorMismatch struct{}

func (errComparatorMismatch) Error() string {
	return "kv: sub-DB already open under a different comparator signature"
}

func reverseMemcmp(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		ai, bi := a[la-1-i], b[lb-1-i]
		if ai != bi {
			if ai < bi {
				return -1
			}
			return 1
		}
	}
	if la < lb {
		return -1
	}
	if la > lb {
		return 1
	}
	return 0
}
