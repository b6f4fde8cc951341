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

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemEnv is a pure-Go, in-memory Env test double. It gives the rest of
// the engine something to run its unit tests against without a real
// memory-mapped file, the same role erigon-lib's own mdbx "memdb" test
// helper plays for its kv package: every method here satisfies the same
// Env/Tx/Cursor contracts a real mdbx-go-backed Env does, just with a
// copy-on-write slice standing in for the B+tree page store.
type MemEnv struct {
	mu       sync.RWMutex
	writerMu sync.Mutex

	dbs     map[DBI]*memState
	names   map[string]DBI
	sigs    map[string]Signature
	nextDBI DBI
	viewID  uint64
}

func NewMemEnv() *MemEnv {
	return &MemEnv{
		dbs:     map[DBI]*memState{},
		names:   map[string]DBI{},
		sigs:    map[string]Signature{},
		nextDBI: 1,
	}
}

// memState is the immutable-once-published content of one sub-DB: a
// version is never mutated in place, only replaced wholesale, which is
// what lets a read-only Tx hold a consistent snapshot just by keeping its
// own reference to the map of *memState as of BeginRo.
type memState struct {
	cmp     Comparator
	dupCmp  Comparator
	dupSort bool
	seq     uint64
	entries []memKV
}

type memKV struct{ k, v []byte }

func (s *memState) clone() *memState {
	cp := *s
	cp.entries = append([]memKV(nil), s.entries...)
	return &cp
}

func (s *memState) find(key []byte) (int, bool) {
	i := sort.Search(len(s.entries), func(i int) bool { return s.cmp(s.entries[i].k, key) >= 0 })
	if i < len(s.entries) && s.cmp(s.entries[i].k, key) == 0 {
		return i, true
	}
	return i, false
}

// dupRange returns [lo, hi) spanning every entry sharing key, sorted
// within that span by dupCmp over the value (the dup-payload comparator
// is always the table's PK comparator).
func (s *memState) dupRange(key []byte) (lo, hi int) {
	lo, _ = s.find(key)
	hi = lo
	for hi < len(s.entries) && s.cmp(s.entries[hi].k, key) == 0 {
		hi++
	}
	return lo, hi
}

// OpenDBI creating a new sub-DB inside a write txn stages the name/dbi
// binding on that txn rather than publishing it to the env immediately:
// a schema txn that opens DBIs for a new table and then aborts must leave
// no trace, matching §4.E's "atomic with the surrounding txn commit."
func (e *MemEnv) OpenDBI(tx Tx, name string, flags TableFlags, cmp, dupCmp Comparator, sig Signature) (DBI, error) {
	mt, _ := tx.(*memTx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if dbi, ok := e.names[name]; ok {
		if recorded, ok := e.sigs[name]; ok && recorded != sig {
			return 0, ErrComparatorMismatch
		}
		return dbi, nil
	}
	if mt != nil && mt.pendingNames != nil {
		if dbi, ok := mt.pendingNames[name]; ok {
			if recorded, ok := mt.pendingSigs[name]; ok && recorded != sig {
				return 0, ErrComparatorMismatch
			}
			return dbi, nil
		}
	}
	if flags&Create == 0 {
		return 0, errors.New("kv: sub-DB does not exist")
	}
	dbi := e.nextDBI
	e.nextDBI++
	state := &memState{cmp: cmp, dupCmp: dupCmp, dupSort: flags&DupSort != 0}
	if mt != nil && mt.write {
		if mt.pendingNames == nil {
			mt.pendingNames = map[string]DBI{}
			mt.pendingSigs = map[string]Signature{}
		}
		mt.pendingNames[name] = dbi
		mt.pendingSigs[name] = sig
		mt.staged[dbi] = state
		return dbi, nil
	}
	e.names[name] = dbi
	e.sigs[name] = sig
	e.dbs[dbi] = state
	return dbi, nil
}

// DropDBI stages the drop on tx: the sub-DB disappears for the rest of
// this txn (state() treats a staged-dropped dbi as nonexistent) but env
// only loses it at Commit, so Rollback leaves the sub-DB untouched.
func (e *MemEnv) DropDBI(tx RwTx, dbi DBI) error {
	mt, ok := tx.(*memTx)
	if !ok {
		return errors.New("kv: invalid tx")
	}
	if mt.droppedDBI == nil {
		mt.droppedDBI = map[DBI]bool{}
	}
	mt.droppedDBI[dbi] = true
	delete(mt.staged, dbi)
	return nil
}

// ClearDBI stages a fresh, empty memState for dbi the same way Put/Delete
// stage entry mutations, so an aborted clear leaves the sub-DB untouched.
func (e *MemEnv) ClearDBI(tx RwTx, dbi DBI) error {
	mt, ok := tx.(*memTx)
	if !ok {
		return errors.New("kv: invalid tx")
	}
	base := mt.state(dbi)
	if base == nil {
		return errors.New("kv: unknown dbi")
	}
	mt.staged[dbi] = &memState{cmp: base.cmp, dupCmp: base.dupCmp, dupSort: base.dupSort}
	return nil
}

func (e *MemEnv) snapshot() map[DBI]*memState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[DBI]*memState, len(e.dbs))
	for k, v := range e.dbs {
		out[k] = v
	}
	return out
}

func (e *MemEnv) BeginRo(ctx context.Context) (Tx, error) {
	e.mu.RLock()
	v := e.viewID
	e.mu.RUnlock()
	return &memTx{env: e, dbs: e.snapshot(), viewID: v}, nil
}

func (e *MemEnv) BeginRw(ctx context.Context) (RwTx, error) {
	e.writerMu.Lock()
	e.mu.RLock()
	v := e.viewID
	e.mu.RUnlock()
	return &memTx{env: e, dbs: e.snapshot(), viewID: v, write: true, staged: map[DBI]*memState{}}, nil
}

func (e *MemEnv) PageSize() uint64 { return 4096 }

func (e *MemEnv) Close() {}

// memTx implements both Tx and RwTx; write-mode ops operate on a
// per-dbi staged clone, published to env.dbs only at Commit.
type memTx struct {
	env    *MemEnv
	dbs    map[DBI]*memState
	staged map[DBI]*memState
	viewID uint64
	write  bool
	done   bool

	// pendingNames/pendingSigs stage a new sub-DB's name/signature binding
	// until Commit; droppedDBI stages a DropDBI until Commit. Both are nil
	// on a read-only txn, which never creates or drops a sub-DB.
	pendingNames map[string]DBI
	pendingSigs  map[string]Signature
	droppedDBI   map[DBI]bool
}

func (t *memTx) state(dbi DBI) *memState {
	if t.droppedDBI != nil && t.droppedDBI[dbi] {
		return nil
	}
	if t.write {
		if s, ok := t.staged[dbi]; ok {
			return s
		}
	}
	return t.dbs[dbi]
}

func (t *memTx) stageFor(dbi DBI) *memState {
	if s, ok := t.staged[dbi]; ok {
		return s
	}
	base := t.dbs[dbi]
	cp := base.clone()
	t.staged[dbi] = cp
	return cp
}

func (t *memTx) Get(dbi DBI, key []byte) ([]byte, error) {
	s := t.state(dbi)
	if s == nil {
		return nil, errors.New("kv: unknown dbi")
	}
	i, ok := s.find(key)
	if !ok {
		return nil, nil
	}
	return s.entries[i].v, nil
}

func (t *memTx) Has(dbi DBI, key []byte) (bool, error) {
	s := t.state(dbi)
	if s == nil {
		return false, errors.New("kv: unknown dbi")
	}
	_, ok := s.find(key)
	return ok, nil
}

func (t *memTx) Cursor(dbi DBI) (Cursor, error) {
	s := t.state(dbi)
	if s == nil {
		return nil, errors.New("kv: unknown dbi")
	}
	return &memCursor{tx: t, dbi: dbi, pos: -1}, nil
}

func (t *memTx) CursorDupSort(dbi DBI) (CursorDupSort, error) {
	if t.state(dbi) == nil {
		return nil, errors.New("kv: unknown dbi")
	}
	return &memCursor{tx: t, dbi: dbi, pos: -1}, nil
}

func (t *memTx) ReadSequence(dbi DBI) (uint64, error) {
	s := t.state(dbi)
	if s == nil {
		return 0, errors.New("kv: unknown dbi")
	}
	return s.seq, nil
}

func (t *memTx) ViewID() uint64 { return t.viewID }

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("kv: txn already ended")
	}
	t.done = true
	if t.write {
		t.env.mu.Lock()
		for name, dbi := range t.pendingNames {
			t.env.names[name] = dbi
			t.env.sigs[name] = t.pendingSigs[name]
		}
		for dbi := range t.droppedDBI {
			delete(t.env.dbs, dbi)
			for n, d := range t.env.names {
				if d == dbi {
					delete(t.env.names, n)
					delete(t.env.sigs, n)
				}
			}
		}
		for dbi, s := range t.staged {
			if t.droppedDBI != nil && t.droppedDBI[dbi] {
				continue
			}
			t.env.dbs[dbi] = s
		}
		t.env.viewID++
		t.env.mu.Unlock()
		t.env.writerMu.Unlock()
	}
	return nil
}

func (t *memTx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	if t.write {
		t.env.writerMu.Unlock()
	}
}

func (t *memTx) Put(dbi DBI, k, v []byte) error {
	s := t.stageFor(dbi)
	kk := append([]byte(nil), k...)
	vv := append([]byte(nil), v...)
	if !s.dupSort {
		i, ok := s.find(kk)
		if ok {
			s.entries[i] = memKV{kk, vv}
			return nil
		}
		s.entries = insertAt(s.entries, i, memKV{kk, vv})
		return nil
	}
	lo, hi := s.dupRange(kk)
	j := sort.Search(hi-lo, func(i int) bool { return s.dupCmp(s.entries[lo+i].v, vv) >= 0 })
	idx := lo + j
	if idx < hi && s.dupCmp(s.entries[idx].v, vv) == 0 {
		s.entries[idx] = memKV{kk, vv}
		return nil
	}
	s.entries = insertAt(s.entries, idx, memKV{kk, vv})
	return nil
}

func (t *memTx) Delete(dbi DBI, k, v []byte) error {
	s := t.stageFor(dbi)
	if v == nil {
		lo, hi := s.dupRange(k)
		if lo == hi {
			return nil
		}
		s.entries = append(s.entries[:lo], s.entries[hi:]...)
		return nil
	}
	lo, hi := s.dupRange(k)
	for i := lo; i < hi; i++ {
		if s.dupCmp(s.entries[i].v, v) == 0 {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (t *memTx) RwCursor(dbi DBI) (RwCursor, error) {
	t.stageFor(dbi)
	return &memCursor{tx: t, dbi: dbi, pos: -1}, nil
}

func (t *memTx) RwCursorDupSort(dbi DBI) (RwCursorDupSort, error) {
	t.stageFor(dbi)
	return &memCursor{tx: t, dbi: dbi, pos: -1}, nil
}

func (t *memTx) IncrementSequence(dbi DBI, amount uint64) (uint64, error) {
	s := t.stageFor(dbi)
	first := s.seq
	s.seq += amount
	return first, nil
}

func insertAt(s []memKV, i int, e memKV) []memKV {
	s = append(s, memKV{})
	copy(s[i+1:], s[i:])
	s[i] = e
	return s
}

// memCursor implements Cursor/RwCursor/CursorDupSort/RwCursorDupSort; pos
// indexes into the owning memState's entries slice (re-fetched from t on
// every call so writes through the same txn are immediately visible).
type memCursor struct {
	tx  *memTx
	dbi DBI
	pos int
}

func (c *memCursor) state() *memState { return c.tx.state(c.dbi) }

func (c *memCursor) at(i int) ([]byte, []byte, error) {
	s := c.state()
	if i < 0 || i >= len(s.entries) {
		c.pos = -1
		return nil, nil, nil
	}
	c.pos = i
	return s.entries[i].k, s.entries[i].v, nil
}

func (c *memCursor) First() ([]byte, []byte, error) { return c.at(0) }
func (c *memCursor) Last() ([]byte, []byte, error)  { return c.at(len(c.state().entries) - 1) }
func (c *memCursor) Next() ([]byte, []byte, error)  { return c.at(c.pos + 1) }
func (c *memCursor) Prev() ([]byte, []byte, error)  { return c.at(c.pos - 1) }

func (c *memCursor) Seek(key []byte) ([]byte, []byte, error) {
	s := c.state()
	i, _ := s.find(key)
	return c.at(i)
}

func (c *memCursor) SeekExact(key []byte) ([]byte, []byte, error) {
	s := c.state()
	i, ok := s.find(key)
	if !ok {
		c.pos = -1
		return nil, nil, nil
	}
	return c.at(i)
}

func (c *memCursor) Current() ([]byte, []byte, error) { return c.at(c.pos) }

func (c *memCursor) Count() (uint64, error) {
	return uint64(len(c.state().entries)), nil
}

func (c *memCursor) Close() {}

func (c *memCursor) Put(k, v []byte) error    { return c.tx.Put(c.dbi, k, v) }
func (c *memCursor) Append(k, v []byte) error { return c.tx.Put(c.dbi, k, v) }
func (c *memCursor) Delete(k []byte) error    { return c.tx.Delete(c.dbi, k, nil) }

func (c *memCursor) DeleteCurrent() error {
	s := c.state()
	if c.pos < 0 || c.pos >= len(s.entries) {
		return errors.New("kv: cursor not positioned")
	}
	k := s.entries[c.pos].k
	v := s.entries[c.pos].v
	if s.dupSort {
		return c.tx.Delete(c.dbi, k, v)
	}
	return c.tx.Delete(c.dbi, k, nil)
}

func (c *memCursor) SeekBothExact(key, val []byte) ([]byte, []byte, error) {
	s := c.state()
	lo, hi := s.dupRange(key)
	for i := lo; i < hi; i++ {
		if s.dupCmp(s.entries[i].v, val) == 0 {
			return c.at(i)
		}
	}
	c.pos = -1
	return nil, nil, nil
}

func (c *memCursor) SeekBothRange(key, val []byte) ([]byte, error) {
	s := c.state()
	lo, hi := s.dupRange(key)
	j := sort.Search(hi-lo, func(i int) bool { return s.dupCmp(s.entries[lo+i].v, val) >= 0 })
	if lo+j >= hi {
		c.pos = -1
		return nil, nil
	}
	_, v, err := c.at(lo + j)
	return v, err
}

func (c *memCursor) FirstDup() ([]byte, error) {
	s := c.state()
	if c.pos < 0 || c.pos >= len(s.entries) {
		return nil, nil
	}
	lo, _ := s.dupRange(s.entries[c.pos].k)
	_, v, err := c.at(lo)
	return v, err
}

func (c *memCursor) LastDup() ([]byte, error) {
	s := c.state()
	if c.pos < 0 || c.pos >= len(s.entries) {
		return nil, nil
	}
	_, hi := s.dupRange(s.entries[c.pos].k)
	_, v, err := c.at(hi - 1)
	return v, err
}

func (c *memCursor) NextDup() ([]byte, []byte, error) {
	s := c.state()
	if c.pos < 0 || c.pos >= len(s.entries) {
		return nil, nil, nil
	}
	key := s.entries[c.pos].k
	_, hi := s.dupRange(key)
	if c.pos+1 >= hi {
		c.pos = -1
		return nil, nil, nil
	}
	return c.at(c.pos + 1)
}

func (c *memCursor) PrevDup() ([]byte, []byte, error) {
	s := c.state()
	if c.pos < 0 || c.pos >= len(s.entries) {
		return nil, nil, nil
	}
	key := s.entries[c.pos].k
	lo, _ := s.dupRange(key)
	if c.pos-1 < lo {
		c.pos = -1
		return nil, nil, nil
	}
	return c.at(c.pos - 1)
}

func (c *memCursor) NextNoDup() ([]byte, []byte, error) {
	s := c.state()
	if c.pos < 0 || c.pos >= len(s.entries) {
		return c.First()
	}
	_, hi := s.dupRange(s.entries[c.pos].k)
	return c.at(hi)
}

func (c *memCursor) PrevNoDup() ([]byte, []byte, error) {
	s := c.state()
	if c.pos < 0 || c.pos >= len(s.entries) {
		return c.Last()
	}
	lo, _ := s.dupRange(s.entries[c.pos].k)
	if lo == 0 {
		c.pos = -1
		return nil, nil, nil
	}
	prevLo, _ := s.dupRange(s.entries[lo-1].k)
	return c.at(prevLo)
}

func (c *memCursor) CountDuplicates() (uint64, error) {
	s := c.state()
	if c.pos < 0 || c.pos >= len(s.entries) {
		return 0, nil
	}
	lo, hi := s.dupRange(s.entries[c.pos].k)
	return uint64(hi - lo), nil
}

// PutNoDupData is a plain Put here: the staged store already de-dups an
// exact (key, value) pair inside Put, so there is no separate "insert
// only if absent" path to express.
func (c *memCursor) PutNoDupData(k, v []byte) error { return c.tx.Put(c.dbi, k, v) }
func (c *memCursor) DeleteExact(k, v []byte) error  { return c.tx.Delete(c.dbi, k, v) }

func (c *memCursor) DeleteCurrentDuplicates() error {
	s := c.state()
	if c.pos < 0 || c.pos >= len(s.entries) {
		return nil
	}
	key := s.entries[c.pos].k
	return c.tx.Delete(c.dbi, key, nil)
}

func (c *memCursor) AppendDup(k, v []byte) error { return c.tx.Put(c.dbi, k, v) }
