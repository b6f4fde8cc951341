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

// This file is the only one in the module that imports mdbx-go directly;
// everything above kv/ talks to Env/Tx/Cursor only -- the page store is
// an external collaborator.
package kv

import (
	"context"
	"fmt"
	"sync"

	"github.com/erigontech/mdbx-go/mdbx"
)

// MdbxEnv binds one memory-mapped mdbx environment, opening sub-DBs with
// the comparator selected for them.
type MdbxEnv struct {
	env *mdbx.Env

	mu   sync.Mutex
	sigs map[string]Signature
}

// MdbxOptions are the subset of environment knobs the engine cares about;
// config.Options translates into this at Open time.
type MdbxOptions struct {
	Path    string
	Mode    uint32
	MapSize uint64
	MaxDBs  int
}

func OpenMdbx(opt MdbxOptions) (*MdbxEnv, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, err
	}
	if err := env.SetGeometry(-1, -1, int(opt.MapSize), -1, -1, -1); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(opt.MaxDBs)); err != nil {
		env.Close()
		return nil, err
	}
	flags := uint(mdbx.NoSubdir)
	if err := env.Open(opt.Path, flags, 0o644); err != nil {
		env.Close()
		return nil, err
	}
	return &MdbxEnv{env: env, sigs: map[string]Signature{}}, nil
}

func (e *MdbxEnv) OpenDBI(tx Tx, name string, flags TableFlags, cmp, dupCmp Comparator, sig Signature) (DBI, error) {
	mtx, ok := tx.(*mdbxTx)
	if !ok {
		return 0, fmt.Errorf("kv: OpenDBI requires an mdbx-backed Tx")
	}
	e.mu.Lock()
	recorded, seen := e.sigs[name]
	if !seen {
		e.sigs[name] = sig
	}
	e.mu.Unlock()
	if seen && recorded != sig {
		return 0, ErrComparatorMismatch
	}
	var dbiFlags uint
	if flags&Create != 0 {
		dbiFlags |= mdbx.Create
	}
	if flags&DupSort != 0 {
		dbiFlags |= mdbx.DupSort
	}
	if flags&ReverseKey != 0 {
		dbiFlags |= mdbx.ReverseKey
	}
	if flags&ReverseDup != 0 {
		dbiFlags |= mdbx.ReverseDup
	}
	if flags&DupFixed != 0 {
		dbiFlags |= mdbx.DupFixed
	}
	dbi, err := mtx.txn.OpenDBISimple(name, dbiFlags)
	if err != nil {
		return 0, err
	}
	if cmp != nil {
		if err := mtx.txn.SetCmp(dbi, toMdbxCmp(cmp)); err != nil {
			return 0, err
		}
	}
	if dupCmp != nil {
		if err := mtx.txn.SetDupCmp(dbi, toMdbxCmp(dupCmp)); err != nil {
			return 0, err
		}
	}
	return DBI(dbi), nil
}

func toMdbxCmp(cmp Comparator) mdbx.CmpFunc {
	return func(a, b []byte) int { return cmp(a, b) }
}

func (e *MdbxEnv) DropDBI(tx RwTx, dbi DBI) error {
	mtx := tx.(*mdbxTx)
	return mtx.txn.Drop(mdbx.DBI(dbi), true)
}

func (e *MdbxEnv) ClearDBI(tx RwTx, dbi DBI) error {
	mtx := tx.(*mdbxTx)
	return mtx.txn.Drop(mdbx.DBI(dbi), false)
}

func (e *MdbxEnv) BeginRo(ctx context.Context) (Tx, error) {
	txn, err := e.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, err
	}
	return &mdbxTx{txn: txn}, nil
}

func (e *MdbxEnv) BeginRw(ctx context.Context) (RwTx, error) {
	txn, err := e.env.BeginTxn(nil, 0)
	if err != nil {
		return nil, err
	}
	return &mdbxTx{txn: txn, write: true}, nil
}

func (e *MdbxEnv) PageSize() uint64 {
	info, err := e.env.Info(nil)
	if err != nil {
		return 0
	}
	return uint64(info.PageSize)
}

func (e *MdbxEnv) Close() { e.env.Close() }

type mdbxTx struct {
	txn   *mdbx.Txn
	write bool
}

func (t *mdbxTx) Get(dbi DBI, key []byte) ([]byte, error) {
	v, err := t.txn.Get(mdbx.DBI(dbi), key)
	if mdbx.IsNotFound(err) {
		return nil, nil
	}
	return v, err
}

func (t *mdbxTx) Has(dbi DBI, key []byte) (bool, error) {
	v, err := t.Get(dbi, key)
	return v != nil, err
}

func (t *mdbxTx) Cursor(dbi DBI) (Cursor, error) {
	c, err := t.txn.OpenCursor(mdbx.DBI(dbi))
	if err != nil {
		return nil, err
	}
	return &mdbxCursor{c: c}, nil
}

func (t *mdbxTx) CursorDupSort(dbi DBI) (CursorDupSort, error) {
	c, err := t.txn.OpenCursor(mdbx.DBI(dbi))
	if err != nil {
		return nil, err
	}
	return &mdbxCursor{c: c}, nil
}

func (t *mdbxTx) ReadSequence(dbi DBI) (uint64, error) {
	return t.txn.Sequence(mdbx.DBI(dbi), 0)
}

func (t *mdbxTx) ViewID() uint64 { return uint64(t.txn.ID()) }

func (t *mdbxTx) Commit() error {
	_, err := t.txn.Commit()
	return err
}

func (t *mdbxTx) Rollback() { t.txn.Abort() }

func (t *mdbxTx) Put(dbi DBI, k, v []byte) error {
	return t.txn.Put(mdbx.DBI(dbi), k, v, 0)
}

func (t *mdbxTx) Delete(dbi DBI, k, v []byte) error {
	err := t.txn.Del(mdbx.DBI(dbi), k, v)
	if mdbx.IsNotFound(err) {
		return nil
	}
	return err
}

func (t *mdbxTx) RwCursor(dbi DBI) (RwCursor, error) {
	c, err := t.txn.OpenCursor(mdbx.DBI(dbi))
	if err != nil {
		return nil, err
	}
	return &mdbxCursor{c: c}, nil
}

func (t *mdbxTx) RwCursorDupSort(dbi DBI) (RwCursorDupSort, error) {
	c, err := t.txn.OpenCursor(mdbx.DBI(dbi))
	if err != nil {
		return nil, err
	}
	return &mdbxCursor{c: c}, nil
}

func (t *mdbxTx) IncrementSequence(dbi DBI, amount uint64) (uint64, error) {
	return t.txn.Sequence(mdbx.DBI(dbi), amount)
}

// mdbxCursor adapts mdbx.Cursor's single Get(key, val, op)-shaped API onto
// this package's split First/Last/Next/... method set.
type mdbxCursor struct {
	c *mdbx.Cursor
}

func orNotFound(k, v []byte, err error) ([]byte, []byte, error) {
	if mdbx.IsNotFound(err) {
		return nil, nil, nil
	}
	return k, v, err
}

func (m *mdbxCursor) First() ([]byte, []byte, error) { return orNotFound(m.c.Get(nil, nil, mdbx.First)) }
func (m *mdbxCursor) Last() ([]byte, []byte, error)  { return orNotFound(m.c.Get(nil, nil, mdbx.Last)) }
func (m *mdbxCursor) Next() ([]byte, []byte, error)  { return orNotFound(m.c.Get(nil, nil, mdbx.Next)) }
func (m *mdbxCursor) Prev() ([]byte, []byte, error)  { return orNotFound(m.c.Get(nil, nil, mdbx.Prev)) }

func (m *mdbxCursor) Seek(key []byte) ([]byte, []byte, error) {
	return orNotFound(m.c.Get(key, nil, mdbx.SetRange))
}

func (m *mdbxCursor) SeekExact(key []byte) ([]byte, []byte, error) {
	return orNotFound(m.c.Get(key, nil, mdbx.Set))
}

func (m *mdbxCursor) Current() ([]byte, []byte, error) {
	return orNotFound(m.c.Get(nil, nil, mdbx.GetCurrent))
}

func (m *mdbxCursor) Count() (uint64, error) {
	stat, err := m.c.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Entries, nil
}

func (m *mdbxCursor) Close() { m.c.Close() }

func (m *mdbxCursor) Put(k, v []byte) error    { return m.c.Put(k, v, 0) }
func (m *mdbxCursor) Append(k, v []byte) error { return m.c.Put(k, v, mdbx.Append) }
func (m *mdbxCursor) Delete(k []byte) error {
	if _, _, err := m.c.Get(k, nil, mdbx.Set); err != nil {
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	}
	return m.c.Del(0)
}
func (m *mdbxCursor) DeleteCurrent() error { return m.c.Del(0) }

func (m *mdbxCursor) SeekBothExact(key, val []byte) ([]byte, []byte, error) {
	return orNotFound(m.c.Get(key, val, mdbx.GetBoth))
}

func (m *mdbxCursor) SeekBothRange(key, val []byte) ([]byte, error) {
	_, v, err := orNotFound(m.c.Get(key, val, mdbx.GetBothRange))
	return v, err
}

func (m *mdbxCursor) FirstDup() ([]byte, error) {
	_, v, err := orNotFound(m.c.Get(nil, nil, mdbx.FirstDup))
	return v, err
}

func (m *mdbxCursor) LastDup() ([]byte, error) {
	_, v, err := orNotFound(m.c.Get(nil, nil, mdbx.LastDup))
	return v, err
}

func (m *mdbxCursor) NextDup() ([]byte, []byte, error) {
	return orNotFound(m.c.Get(nil, nil, mdbx.NextDup))
}

func (m *mdbxCursor) PrevDup() ([]byte, []byte, error) {
	return orNotFound(m.c.Get(nil, nil, mdbx.PrevDup))
}

func (m *mdbxCursor) NextNoDup() ([]byte, []byte, error) {
	return orNotFound(m.c.Get(nil, nil, mdbx.NextNoDup))
}

func (m *mdbxCursor) PrevNoDup() ([]byte, []byte, error) {
	return orNotFound(m.c.Get(nil, nil, mdbx.PrevNoDup))
}

func (m *mdbxCursor) CountDuplicates() (uint64, error) {
	return m.c.Count()
}

func (m *mdbxCursor) PutNoDupData(k, v []byte) error { return m.c.Put(k, v, mdbx.NoDupData) }
func (m *mdbxCursor) DeleteExact(k, v []byte) error {
	if _, _, err := m.c.Get(k, v, mdbx.GetBoth); err != nil {
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	}
	return m.c.Del(0)
}
func (m *mdbxCursor) DeleteCurrentDuplicates() error { return m.c.Del(mdbx.AllDups) }
func (m *mdbxCursor) AppendDup(k, v []byte) error    { return m.c.Put(k, v, mdbx.AppendDup) }
