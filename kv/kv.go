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

// Package kv is the boundary between the tabular engine and the
// underlying copy-on-write, memory-mapped B+tree store, treated here
// purely as an external collaborator behind a small interface. Everything
// above this package talks to sub-DBs only through
// Tx/RwTx/Cursor/RwCursor/CursorDupSort/RwCursorDupSort; nothing above
// this package imports mdbx-go directly.
package kv

import "context"

// Variable naming, matching the convention this interface is modeled on:
//   tx  - database transaction
//   k,v - key, value
//   dbi - handle to one sub-database inside the shared environment

// DBI identifies one opened sub-database within an Env.
type DBI uint32

// Comparator orders two keys the same way the underlying store's memcmp
// would, for sub-DBs whose declared direction needs something other than
// raw byte compare (the comparator table picks these; see kv/comparator.go).
type Comparator func(a, b []byte) int

// TableFlags mirror the subset of mdbx/lmdb DBI flags this engine uses.
type TableFlags uint

const (
	Create TableFlags = 1 << iota
	DupSort
	ReverseKey
	ReverseDup
	DupFixed
)

// Env owns the shared environment: one memory-mapped file, the DBI
// namespace, and the single-writer lock enforced by the underlying store.
type Env interface {
	// OpenDBI opens (creating if flagged) a sub-database with the given
	// comparator(s) bound for the life of the handle. Must be called
	// inside a write or schema Tx the first time a given name is seen.
	// sig identifies which comparator this call expects to bind; if name
	// already has a DBI open under a different recorded Signature, OpenDBI
	// refuses with ErrComparatorMismatch: a pre-existing sub-DB whose
	// recorded comparator signature disagrees with what the current schema
	// would require can never be reopened under the new one.
	OpenDBI(tx Tx, name string, flags TableFlags, cmp, dupCmp Comparator, sig Signature) (DBI, error)
	DropDBI(tx RwTx, dbi DBI) error
	ClearDBI(tx RwTx, dbi DBI) error

	BeginRo(ctx context.Context) (Tx, error)
	BeginRw(ctx context.Context) (RwTx, error)

	PageSize() uint64
	Close()
}

// Tx is a read-only (or read side of a read-write) transaction.
//
// WARNING: a Tx and its cursors are only valid on the goroutine/thread
// that created them; the underlying store pins write transactions to an
// OS thread.
type Tx interface {
	// Get returns nil, nil if the key is absent.
	Get(dbi DBI, key []byte) (val []byte, err error)
	Has(dbi DBI, key []byte) (bool, error)

	Cursor(dbi DBI) (Cursor, error)
	CursorDupSort(dbi DBI) (CursorDupSort, error)

	// ReadSequence returns the current value of dbi's monotonic counter
	// without reserving any of it.
	ReadSequence(dbi DBI) (uint64, error)

	// ViewID is the snapshot/transaction identifier.
	ViewID() uint64

	Commit() error
	Rollback()
}

// RwTx additionally permits mutation.
type RwTx interface {
	Tx

	Put(dbi DBI, k, v []byte) error
	Delete(dbi DBI, k, v []byte) error // v may be nil; with DupSort, a non-nil v deletes only that pair.

	RwCursor(dbi DBI) (RwCursor, error)
	RwCursorDupSort(dbi DBI) (RwCursorDupSort, error)

	// IncrementSequence reserves the next `amount` integers of dbi's
	// per-sub-DB counter atomically and returns the first of them,
	// starting from 0.
	IncrementSequence(dbi DBI, amount uint64) (uint64, error)
}

// Op selects the positioning semantics of a Cursor.Get call, mirroring the
// underlying store's cursor-op enum (First/Last/Next/Prev/Set/SetRange/
// GetBoth/GetBothRange/dup variants).
type Op uint8

const (
	First Op = iota
	Last
	Next
	Prev
	Set      // exact key match
	SetRange // first key >= probe
	GetBoth
	GetBothRange
	FirstDup
	LastDup
	NextDup
	PrevDup
	NextNoDup
	PrevNoDup
	Current
)

// Cursor walks one sub-DB. If a positioning method finds nothing, it
// returns (nil, nil, nil) with no error; callers distinguish "not found"
// from I/O failure by checking err.
type Cursor interface {
	First() (k, v []byte, err error)
	Last() (k, v []byte, err error)
	Next() (k, v []byte, err error)
	Prev() (k, v []byte, err error)
	Seek(key []byte) (k, v []byte, err error)      // first key >= probe
	SeekExact(key []byte) (k, v []byte, err error) // exact key match only
	Current() (k, v []byte, err error)

	Count() (uint64, error)

	Close()
}

type RwCursor interface {
	Cursor

	Put(k, v []byte) error
	Append(k, v []byte) error
	Delete(k []byte) error
	DeleteCurrent() error
}

// CursorDupSort additionally navigates the duplicate multiset sharing one
// key, for sub-DBs opened with DupSort (every with-dups secondary index).
type CursorDupSort interface {
	Cursor

	SeekBothExact(key, val []byte) (k, v []byte, err error)
	SeekBothRange(key, val []byte) (v []byte, err error)
	FirstDup() (v []byte, err error)
	LastDup() (v []byte, err error)
	NextDup() (k, v []byte, err error)
	PrevDup() (k, v []byte, err error)
	NextNoDup() (k, v []byte, err error)
	PrevNoDup() (k, v []byte, err error)

	CountDuplicates() (uint64, error)
}

type RwCursorDupSort interface {
	CursorDupSort
	RwCursor

	PutNoDupData(k, v []byte) error
	DeleteExact(k, v []byte) error
	DeleteCurrentDuplicates() error
	AppendDup(k, v []byte) error
}
