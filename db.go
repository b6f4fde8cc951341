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

package tablestore

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/erigontech/tablestore/config"
	"github.com/erigontech/tablestore/keycodec"
	"github.com/erigontech/tablestore/kv"
	"github.com/erigontech/tablestore/log"
	"github.com/erigontech/tablestore/metrics"
	"github.com/erigontech/tablestore/schema"
)

const catalogDBIName = "$catalog"

// dbiCacheKey identifies one index's DBI handle by the owning table's
// fingerprint and the column's slot; a schema drop/recreate changes the
// fingerprint, naturally orphaning stale cache entries instead of requiring
// an explicit invalidation pass.
type dbiCacheKey struct {
	fingerprint uint64
	slot        uint16
}

// DB owns the K/V environment, the DBI cache, and the in-memory catalog
// snapshot every txn resolves names against. All fields besides the maps below are safe for concurrent
// use from multiple goroutines/threads, matching the underlying store's
// own concurrency contract.
type DB struct {
	env    kv.Env
	opts   config.Options
	logger log.Logger

	mu      sync.RWMutex
	catalog map[string]*schema.TableDescriptor // keyed by normalized (lowercased) name

	epoch uint64 // bumped on every committed schema txn

	catalogDBI kv.DBI

	dbiMu    sync.Mutex
	dbiCache map[dbiCacheKey]kv.DBI
	// lastFingerprint records the most recently bound fingerprint per
	// table name, so dbiFor can tell a genuine rebind -- a cache miss
	// for a table name it already saw under a different fingerprint,
	// meaning a schema epoch bump orphaned the old handle -- apart from
	// an ordinary first-time open, which must not count as a rebind.
	lastFingerprint map[string]uint64

	writerSem *semaphore.Weighted
}

func normalize(name string) string { return strings.ToLower(name) }

// Open loads the catalog sub-DB and builds the in-memory table snapshot
// every Txn resolves handles against. env is typically an *kv.MdbxEnv in
// production or an *kv.MemEnv in tests; Open itself is K/V-store-agnostic.
func Open(env kv.Env, opts config.Options) (*DB, error) {
	if opts.Logger == nil {
		opts.Logger = log.Discard
	}
	db := &DB{
		env:             env,
		opts:            opts,
		logger:          opts.Logger,
		catalog:         map[string]*schema.TableDescriptor{},
		dbiCache:        map[dbiCacheKey]kv.DBI{},
		lastFingerprint: map[string]uint64{},
		writerSem:       newWriterSemaphore(),
	}

	ctx := context.Background()
	rtx, err := env.BeginRw(ctx)
	if err != nil {
		return nil, Wrap(Eoops, "", "", err)
	}
	dbi, err := env.OpenDBI(rtx, catalogDBIName, kv.Create, kv.Comparator(bytes.Compare), nil, kv.SigObverseMemcmp)
	if err != nil {
		rtx.Rollback()
		return nil, Wrap(Eoops, "", "", err)
	}
	db.catalogDBI = dbi

	cur, err := rtx.Cursor(dbi)
	if err != nil {
		rtx.Rollback()
		return nil, Wrap(Eoops, "", "", err)
	}
	k, v, err := cur.First()
	for {
		if err != nil {
			cur.Close()
			rtx.Rollback()
			return nil, Wrap(Eoops, "", "", err)
		}
		if k == nil {
			break
		}
		td, derr := schema.DecodeRecord(v)
		if derr != nil {
			cur.Close()
			rtx.Rollback()
			return nil, Wrap(Eoops, "", "", derr)
		}
		db.catalog[normalize(td.Name)] = td
		k, v, err = cur.Next()
	}
	cur.Close()
	if err := rtx.Commit(); err != nil {
		return nil, Wrap(Eoops, "", "", err)
	}
	return db, nil
}

func (db *DB) Close() { db.env.Close() }

// keyOpts derives the key codec's knobs from the engine-wide config.
func (db *DB) keyOpts() keycodec.Options {
	fp := keycodec.Strict
	if db.opts.FloatPrecisionPolicy == config.Lax {
		fp = keycodec.Lax
	}
	return keycodec.Options{MaxKeyLen: db.opts.MaxKeyLen, FloatPolicy: fp}
}

func (db *DB) loadEpoch() uint64 { return atomic.LoadUint64(&db.epoch) }
func (db *DB) bumpEpoch() uint64 { return atomic.AddUint64(&db.epoch, 1) }

// TableByName and Epoch implement schema.Lookup, letting a schema.Handle
// be refreshed directly against a DB.
func (db *DB) TableByName(name string) (*schema.TableDescriptor, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	td, ok := db.catalog[normalize(name)]
	return td, ok
}

func (db *DB) Epoch() uint64 { return db.loadEpoch() }

// pkComparator returns td's PK column's own key comparator -- used
// verbatim as the dup-payload comparator for every secondary sub-DB of
// the table.
func pkComparator(td *schema.TableDescriptor) kv.Comparator {
	pk, ok := td.PKColumn()
	if !ok {
		return bytes.Compare
	}
	if len(pk.Composite) > 0 {
		c, _ := kv.CompositeComparator()
		return c
	}
	c, _, _ := kv.Comparators(pk.Direction, pk.Ordered, nil)
	return c
}

// comparatorFor picks the (key, dup) comparator pair and the recorded
// Signature for one column's sub-DB, given the table's own PK comparator
// for the dup slot.
func comparatorFor(col schema.ColumnDescriptor, pkCmp kv.Comparator) (key kv.Comparator, dup kv.Comparator, sig kv.Signature) {
	if len(col.Composite) > 0 {
		k, s := kv.CompositeComparator()
		return k, pkCmp, s
	}
	k, _, s := kv.Comparators(col.Direction, col.Ordered, pkCmp)
	return k, pkCmp, s
}

// dbiFor resolves a column's DBI, opening (or re-opening, across a schema
// epoch bump) it lazily the first time it's requested in any txn.
func (db *DB) dbiFor(tx kv.Tx, td *schema.TableDescriptor, slot uint16, write bool) (kv.DBI, error) {
	key := dbiCacheKey{td.Fingerprint, slot}
	db.dbiMu.Lock()
	if dbi, ok := db.dbiCache[key]; ok {
		db.dbiMu.Unlock()
		return dbi, nil
	}
	db.dbiMu.Unlock()

	col, ok := columnBySlot(td, slot)
	if !ok {
		return 0, New(NoIndex, td.Name, "")
	}
	pkCmp := pkComparator(td)
	keyCmp, dupCmp, sig := comparatorFor(col, pkCmp)
	flags := kv.TableFlags(0)
	if write {
		flags |= kv.Create
	}
	if !col.Unique && col.Kind != schema.NotIndexed {
		flags |= kv.DupSort
	}
	dbi, err := db.env.OpenDBI(tx, td.SubDBName(slot), flags, keyCmp, dupCmp, sig)
	if err != nil {
		if err == kv.ErrComparatorMismatch {
			return 0, Wrap(Eoops, td.Name, col.Name, err)
		}
		return 0, err
	}
	name := normalize(td.Name)
	db.dbiMu.Lock()
	db.dbiCache[key] = dbi
	if prev, ok := db.lastFingerprint[name]; ok && prev != td.Fingerprint {
		db.logger.Warn("dbi rebound", "table", td.Name, "slot", slot)
		metrics.DBIRebinds.Inc()
	}
	db.lastFingerprint[name] = td.Fingerprint
	db.dbiMu.Unlock()
	return dbi, nil
}

func columnBySlot(td *schema.TableDescriptor, slot uint16) (schema.ColumnDescriptor, bool) {
	for _, c := range td.Columns {
		if c.Slot == slot {
			return c, true
		}
	}
	return schema.ColumnDescriptor{}, false
}

func invalidateDBICache(db *DB, fingerprint uint64) {
	db.dbiMu.Lock()
	defer db.dbiMu.Unlock()
	for k := range db.dbiCache {
		if k.fingerprint == fingerprint {
			delete(db.dbiCache, k)
		}
	}
}

// CreateTable validates the column set, allocates sub-DBs, and writes the
// catalog record, all atomic with txn's surrounding commit.
func (db *DB) CreateTable(txn *Txn, name string, cs *schema.ColumnSet) error {
	if txn.kind != Schema {
		return New(Einval, name, "")
	}
	if err := txn.requireLive(); err != nil {
		return err
	}
	if err := cs.Validate(db.opts.DialectAllowDot); err != nil {
		return mapSchemaErr(err)
	}
	if _, exists := db.TableByName(name); exists {
		return New(KeyExists, name, "")
	}

	cols := cs.Columns()
	td := &schema.TableDescriptor{
		Name:        name,
		Columns:     cols,
		Fingerprint: schema.Fingerprint(name, cols),
		Epoch:       db.loadEpoch() + 1,
	}

	// The table is absent from the catalog, so any cached DBI under this
	// fingerprint was opened by an aborted schema txn and no longer exists.
	invalidateDBICache(db, td.Fingerprint)
	for _, c := range td.Columns {
		if c.Kind == schema.NotIndexed {
			continue
		}
		if _, err := db.dbiFor(txn.ktx, td, c.Slot, true); err != nil {
			return Wrap(Eoops, name, c.Name, err)
		}
	}

	rec, err := schema.EncodeRecord(td)
	if err != nil {
		return Wrap(Eoops, name, "", err)
	}
	if err := txn.kwtx.Put(db.catalogDBI, []byte(normalize(name)), rec); err != nil {
		return Wrap(Eoops, name, "", err)
	}

	txn.stageCatalogOp(func(db *DB) {
		db.catalog[normalize(name)] = td
	})
	db.logger.Warn("table created", "table", name)
	metrics.SchemaChanges.Inc()
	return nil
}

// DropTable closes and removes every sub-DB plus the catalog record,
// atomic with txn's commit.
func (db *DB) DropTable(txn *Txn, name string) error {
	if txn.kind != Schema {
		return New(Einval, name, "")
	}
	if err := txn.requireLive(); err != nil {
		return err
	}
	td, ok := db.TableByName(name)
	if !ok {
		return New(NotFound, name, "")
	}
	for _, c := range td.Columns {
		if c.Kind == schema.NotIndexed {
			continue
		}
		dbi, err := db.dbiFor(txn.ktx, td, c.Slot, true)
		if err != nil {
			return Wrap(Eoops, name, c.Name, err)
		}
		if err := db.env.DropDBI(txn.kwtx, dbi); err != nil {
			return Wrap(Eoops, name, c.Name, err)
		}
	}
	if err := txn.kwtx.Delete(db.catalogDBI, []byte(normalize(name)), nil); err != nil {
		return Wrap(Eoops, name, "", err)
	}

	fingerprint := td.Fingerprint
	txn.stageCatalogOp(func(db *DB) {
		invalidateDBICache(db, fingerprint)
		delete(db.catalog, normalize(name))
	})
	db.logger.Warn("table dropped", "table", name)
	metrics.SchemaChanges.Inc()
	return nil
}

// ClearTable is schema-only, distinct from DropTable: it empties every
// sub-DB but keeps the catalog record and DBI handles.
func (db *DB) ClearTable(txn *Txn, name string) error {
	if txn.kind != Schema {
		return New(Einval, name, "")
	}
	if err := txn.requireLive(); err != nil {
		return err
	}
	td, ok := db.TableByName(name)
	if !ok {
		return New(NotFound, name, "")
	}
	for _, c := range td.Columns {
		if c.Kind == schema.NotIndexed {
			continue
		}
		dbi, err := db.dbiFor(txn.ktx, td, c.Slot, true)
		if err != nil {
			return Wrap(Eoops, name, c.Name, err)
		}
		if err := db.env.ClearDBI(txn.kwtx, dbi); err != nil {
			return Wrap(Eoops, name, c.Name, err)
		}
	}
	db.logger.Warn("table cleared", "table", name)
	metrics.SchemaChanges.Inc()
	return nil
}

// TableInfo is a read-only introspection snapshot of one table's shape
// and size, for diagnostics.
type TableInfo struct {
	Name     string
	Columns  []schema.ColumnDescriptor
	RowCount uint64
	Sequence uint64
}

// Describe returns read-only diagnostics for a table: its columns, the
// exact row count of its PK sub-DB and that sub-DB's sequence counter.
// Per-index statistics are not reported.
func (db *DB) Describe(txn *Txn, name string) (TableInfo, error) {
	if err := txn.requireLive(); err != nil {
		return TableInfo{}, err
	}
	td, ok := db.TableByName(name)
	if !ok {
		return TableInfo{}, New(NotFound, name, "")
	}
	pk, _ := td.PKColumn()
	dbi, err := db.dbiFor(txn.ktx, td, pk.Slot, txn.kwtx != nil)
	if err != nil {
		return TableInfo{}, Wrap(Eoops, name, "", err)
	}
	cur, err := txn.ktx.Cursor(dbi)
	if err != nil {
		return TableInfo{}, Wrap(Eoops, name, "", err)
	}
	defer cur.Close()
	n, err := cur.Count()
	if err != nil {
		return TableInfo{}, Wrap(Eoops, name, "", err)
	}
	seq, err := txn.ktx.ReadSequence(dbi)
	if err != nil {
		return TableInfo{}, Wrap(Eoops, name, "", err)
	}
	return TableInfo{Name: td.Name, Columns: td.Columns, RowCount: n, Sequence: seq}, nil
}

// mapSchemaErr translates schema's local ErrKind taxonomy onto the
// public ErrCode enum; only the root package formats table/field
// context, since schema.ColumnSet never sees a table name at Validate
// time.
func mapSchemaErr(err error) error {
	se, ok := err.(*schema.Error)
	if !ok {
		return Wrap(Eoops, "", "", err)
	}
	switch se.Kind {
	case schema.ErrNameInvalid:
		return New(NameInvalid, "", se.Name)
	case schema.ErrPrimaryCount, schema.ErrUnorderedWithDirection, schema.ErrPrimaryNullableReverse, schema.ErrNullableReverseUnordered:
		return New(FlagInvalid, "", se.Name)
	case schema.ErrSimilarIndex:
		return New(SimilarIndex, "", se.Name)
	case schema.ErrDuplicateSlot, schema.ErrDuplicateName:
		return New(NameInvalid, "", se.Name)
	case schema.ErrSchemaChanged:
		return New(SchemaChanged, "", se.Name)
	case schema.ErrNoIndex:
		return New(NoIndex, "", se.Name)
	default:
		return Wrap(Eoops, "", se.Name, err)
	}
}
