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

// Package tablestore builds on the kv/, keycodec/, composite/, tuple/,
// and schema/ packages to provide row operations, the cursor engine, and
// the transaction manager, plus the DB façade that ties them together.
package tablestore

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/erigontech/tablestore/kv"
	"github.com/erigontech/tablestore/metrics"
	"github.com/erigontech/tablestore/schema"
)

// Kind is one of the three txn kinds the engine supports.
type Kind uint8

const (
	ReadOnly Kind = iota
	Write
	Schema
)

func (k Kind) String() string {
	switch k {
	case ReadOnly:
		return "read"
	case Write:
		return "write"
	case Schema:
		return "schema"
	default:
		return "unknown"
	}
}

// Txn is the handle every row/cursor operation runs against. A Txn is not
// safe for concurrent use by multiple goroutines: a Tx and its cursors
// are only valid on the goroutine/thread that created them.
type Txn struct {
	db        *DB
	kind      Kind
	ktx       kv.Tx
	kwtx      kv.RwTx
	cancelled bool
	startedAt uint64 // db.epoch as observed at Begin

	// handles caches one schema.Handle per table name this txn has
	// touched, so repeated operations against the same table within one
	// txn resolve the handle once and Validate cheaply thereafter.
	handles map[string]*schema.Handle

	// catalogOps are staged db.catalog mutations from CreateTable/DropTable
	// on this txn; applied in Commit only after the underlying K/V commit
	// succeeds, so an aborted or failed schema txn never leaves the
	// in-memory catalog snapshot diverged from what's actually on disk.
	catalogOps []func(*DB)
}

// stageCatalogOp queues a catalog mutation to apply on successful commit.
func (t *Txn) stageCatalogOp(op func(*DB)) {
	t.catalogOps = append(t.catalogOps, op)
}

// Begin starts a txn of the given kind. Write and Schema txns share the
// single-writer semaphore, so at most one write or schema txn runs at a
// time; read txns do not take it.
func (db *DB) Begin(ctx context.Context, kind Kind) (*Txn, error) {
	if kind == ReadOnly {
		ktx, err := db.env.BeginRo(ctx)
		if err != nil {
			return nil, Wrap(Eoops, "", "", err)
		}
		return &Txn{db: db, kind: kind, ktx: ktx, startedAt: db.loadEpoch()}, nil
	}
	if err := db.writerSem.Acquire(ctx, 1); err != nil {
		return nil, Wrap(Eoops, "", "", err)
	}
	kwtx, err := db.env.BeginRw(ctx)
	if err != nil {
		db.writerSem.Release(1)
		return nil, Wrap(Eoops, "", "", err)
	}
	return &Txn{db: db, kind: kind, ktx: kwtx, kwtx: kwtx, startedAt: db.loadEpoch()}, nil
}

// requireLive returns TxnCancelled if the txn was auto-cancelled by a
// prior failed probe-and-* operation: a write txn that was auto-cancelled
// remains in a state where all further ops return TxnCancelled until
// it is ended.
func (t *Txn) requireLive() error {
	if t.cancelled {
		return New(TxnCancelled, "", "")
	}
	return nil
}

// cancel marks the txn cancelled-by-policy and bumps the cancellation counter.
func (t *Txn) cancel() {
	t.cancelled = true
	t.db.logger.Warn("writer txn cancelled", "kind", t.kind.String())
	metrics.TxnCancellations.Inc()
}

// Commit persists the txn atomically.
func (t *Txn) Commit() error {
	if err := t.requireLive(); err != nil {
		return err
	}
	start := nowMonotonic()
	err := t.ktx.Commit()
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	if t.kind != ReadOnly {
		t.db.writerSem.Release(1)
	}
	if err != nil {
		return Wrap(DbFull, "", "", err)
	}
	metrics.TxnCommits.WithLabelValues(t.kind.String()).Inc()
	if t.kind == Schema {
		t.db.mu.Lock()
		for _, op := range t.catalogOps {
			op(t.db)
		}
		t.db.mu.Unlock()
		t.db.bumpEpoch()
	}
	return nil
}

// Abort discards the txn.
func (t *Txn) Abort() {
	t.ktx.Rollback()
	if t.kind != ReadOnly {
		t.db.writerSem.Release(1)
	}
}

// Lag reports how many schema commits have landed since this txn began:
// the difference between the DB's current schema epoch and the one seen at
// Begin. Only schema commits bump the epoch; commits that only write rows
// are not counted.
func (t *Txn) Lag() uint64 {
	cur := t.db.loadEpoch()
	if cur < t.startedAt {
		return 0
	}
	return cur - t.startedAt
}

// dbiFor resolves (and, if necessary, opens) the DBI for one table
// column's index, keyed by (table fingerprint, slot) so a schema epoch
// bump naturally invalidates the cache entry for a dropped-and-recreated
// table; DBI handles are cached for the life of the DB.
func (t *Txn) dbiFor(td *schema.TableDescriptor, slot uint16) (kv.DBI, error) {
	return t.db.dbiFor(t.ktx, td, slot, t.kwtx != nil)
}

// resolveTable re-resolves td's name through this txn's own schema.Handle
// rather than trusting the caller-supplied pointer indefinitely: a long
// lived read txn that cached td before a concurrent schema txn dropped and
// recreated the same table would otherwise keep reading through a stale
// descriptor. The first call per table name binds the handle; every call
// after that just validates the observed epoch is still current, so the
// common case (no concurrent schema change) costs one map lookup and one
// integer comparison.
func (t *Txn) resolveTable(td *schema.TableDescriptor) (*schema.TableDescriptor, error) {
	if t.handles == nil {
		t.handles = make(map[string]*schema.Handle)
	}
	key := normalize(td.Name)
	h, ok := t.handles[key]
	if !ok {
		h = schema.NewHandle(td.Name)
		t.handles[key] = h
	}
	if err := h.Validate(t.db); err != nil {
		se, ok := err.(*schema.Error)
		if ok && se.Kind == schema.ErrSchemaChanged {
			return nil, mapSchemaErr(err)
		}
		if err := h.Refresh(t.db, ""); err != nil {
			return nil, mapSchemaErr(err)
		}
	}
	return h.Table(), nil
}

func nowMonotonic() time.Time { return time.Now() }

// newWriterSemaphore is split out purely so DB.Close's field ordering
// reads naturally next to Open; golang.org/x/sync/semaphore.Weighted(1)
// is the single-writer admission gate.
func newWriterSemaphore() *semaphore.Weighted { return semaphore.NewWeighted(1) }
