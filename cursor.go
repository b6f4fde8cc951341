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

	"github.com/erigontech/tablestore/config"
	"github.com/erigontech/tablestore/keycodec"
	"github.com/erigontech/tablestore/kv"
	"github.com/erigontech/tablestore/metrics"
	"github.com/erigontech/tablestore/schema"
	"github.com/erigontech/tablestore/tuple"
)

// endpointKind is one of the four distinguished range endpoints a cursor
// range can be opened with.
type endpointKind uint8

const (
	EndpointBegin endpointKind = iota
	EndpointEnd
	EndpointValue
	EndpointEpsilon
)

// Endpoint is one side of a cursor's opening range.
type Endpoint struct {
	kind endpointKind
	row  *tuple.Row // component values, for EndpointValue
}

func Begin() Endpoint   { return Endpoint{kind: EndpointBegin} }
func End() Endpoint     { return Endpoint{kind: EndpointEnd} }
func Epsilon() Endpoint { return Endpoint{kind: EndpointEpsilon} }

func AtValue(row *tuple.Row) Endpoint {
	return Endpoint{kind: EndpointValue, row: row}
}

// SortOrder selects a cursor's ascending/descending/unsorted iteration order.
type SortOrder uint8

const (
	Ascending SortOrder = iota
	Descending
	Unsorted
)

// CursorOptions carries a cursor's per-open knobs.
type CursorOptions struct {
	Order             SortOrder
	DontFetch         bool // defer initial positioning
	ZeroLengthIsPoint bool
	Filter            *Filter
}

// Cursor walks one column's index sub-DB within a bounded range, optionally
// filtered. Holding a Cursor does not pin the Txn by reference for every
// call's sake: callers still reach row/secondary data only through the
// Txn the Cursor was opened against.
type Cursor struct {
	txn *Txn
	td  *schema.TableDescriptor
	col schema.ColumnDescriptor
	dbi kv.DBI
	pk  schema.ColumnDescriptor

	cur   kv.CursorDupSort
	rwCur kv.RwCursorDupSort // nil on a read-only txn

	cmp kv.Comparator

	lowerEP, upperEP   Endpoint
	lowerKey, upperKey []byte
	zeroIsPoint        bool

	// anchorOnly restricts the range to whichever single row the cursor
	// first settles on, for the unbounded begin/epsilon and epsilon/end
	// endpoint pairs: neither side has an encodable key, so inRange can't
	// compare against lowerKey/upperKey and instead pins the one row seen
	// on first positioning.
	anchorOnly     bool
	anchorMirror   bool // epsilon,end: pin the far extreme, not the near one
	anchorCaptured bool
	anchorKey      []byte

	order  SortOrder
	filter *Filter

	curKey, curVal []byte
	positioned     bool
	atEOF          bool
}

// OpenCursor opens a cursor on one column's index, within the given
// [lower, upper) range and options.
func (t *Txn) OpenCursor(td *schema.TableDescriptor, colName string, lower, upper Endpoint, opts CursorOptions) (*Cursor, error) {
	if err := t.requireLive(); err != nil {
		return nil, err
	}
	td, err := t.resolveTable(td)
	if err != nil {
		return nil, err
	}
	col, ok := td.ColumnByName(colName)
	if !ok || col.Kind == schema.NotIndexed {
		return nil, New(NoIndex, td.Name, colName)
	}
	if !col.Ordered {
		boundless := lower.kind == EndpointBegin && upper.kind == EndpointEnd
		if !boundless {
			return nil, New(NoIndex, td.Name, colName)
		}
	}

	dbi, err := t.dbiFor(td, col.Slot)
	if err != nil {
		return nil, err
	}
	pk, ok := td.PKColumn()
	if !ok {
		return nil, Wrap(Eoops, td.Name, "", errNoPrimaryColumn)
	}

	kOpts := t.db.keyOpts()
	var lowerKey, upperKey []byte
	if lower.kind == EndpointValue {
		lowerKey, err = encodeIndexKey(td, col, lower.row, kOpts)
		if err != nil {
			return nil, err
		}
	}
	if upper.kind == EndpointValue {
		upperKey, err = encodeIndexKey(td, col, upper.row, kOpts)
		if err != nil {
			return nil, err
		}
	} else if upper.kind == EndpointEpsilon && lower.kind == EndpointValue {
		upperKey = lowerKey
	}

	// begin,epsilon pins the first row in the cursor's own iteration
	// direction; epsilon,end mirrors it, pinning the last row instead.
	// Neither endpoint carries an encodable key, so the range can't be
	// bounded by lowerKey/upperKey the way a value-anchored range is.
	anchorOnly := (lower.kind == EndpointBegin && upper.kind == EndpointEpsilon) ||
		(lower.kind == EndpointEpsilon && upper.kind == EndpointEnd)
	anchorMirror := lower.kind == EndpointEpsilon && upper.kind == EndpointEnd

	cur, err := t.ktx.CursorDupSort(dbi)
	if err != nil {
		return nil, Wrap(Eoops, td.Name, colName, err)
	}
	var rwCur kv.RwCursorDupSort
	if t.kwtx != nil {
		rwCur, err = t.kwtx.RwCursorDupSort(dbi)
		if err != nil {
			return nil, Wrap(Eoops, td.Name, colName, err)
		}
	}
	metrics.CursorsOpened.Inc()

	pkCmp := pkComparator(td)
	keyCmp, _ := comparatorFor(col, pkCmp)

	c := &Cursor{
		txn: t, td: td, col: col, dbi: dbi, pk: pk,
		cur: cur, rwCur: rwCur, cmp: keyCmp,
		lowerEP: lower, upperEP: upper,
		lowerKey: lowerKey, upperKey: upperKey,
		zeroIsPoint:  opts.ZeroLengthIsPoint || (lower.kind == EndpointValue && upper.kind == EndpointEpsilon),
		anchorOnly:   anchorOnly,
		anchorMirror: anchorMirror,
		order:        opts.Order,
		filter:       opts.Filter,
	}

	if c.lowerEP.kind == EndpointValue && c.upperEP.kind == EndpointValue && !c.zeroIsPoint {
		if bytes.Equal(c.lowerKey, c.upperKey) {
			c.atEOF = true // degenerate range, not a point: empty
		} else if c.cmp(c.lowerKey, c.upperKey) > 0 {
			c.atEOF = true // reversed range: empty
		}
	}

	if !opts.DontFetch && !c.atEOF {
		if err := c.positionInitial(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cursor) positionInitial() error {
	if c.order == Descending {
		return c.move(MoveLast)
	}
	return c.move(MoveFirst)
}

// MoveOp selects a cursor positioning move.
type MoveOp uint8

const (
	MoveFirst MoveOp = iota
	MoveLast
	MoveNext
	MovePrev
	MoveKeyNext
	MoveKeyPrev
	MoveDupFirst
	MoveDupLast
	MoveDupNext
	MoveDupPrev
)

func (c *Cursor) move(op MoveOp) error {
	for {
		k, v, err := c.rawMove(op)
		if err != nil {
			return Wrap(Eoops, c.td.Name, c.col.Name, err)
		}
		if k == nil {
			c.unset()
			return nil
		}
		if !c.inRange(k) {
			c.unset()
			return nil
		}
		if c.anchorOnly && !c.anchorCaptured {
			c.anchorKey = append([]byte(nil), k...)
			c.anchorCaptured = true
		}
		c.curKey, c.curVal, c.positioned, c.atEOF = k, v, true, false
		if c.filter == nil {
			return nil
		}
		row, err := c.fetchRow()
		if err != nil {
			return err
		}
		if c.filter.Eval(row) {
			return nil
		}
		// Filtered out: keep stepping in the same direction.
		op = continuation(op)
	}
}

// continuation picks the repeat-step op for skipping a filtered-out row
// without restarting positioning (First/Last fold into Next/Prev after the
// first step).
func continuation(op MoveOp) MoveOp {
	switch op {
	case MoveFirst, MoveNext:
		return MoveNext
	case MoveLast, MovePrev:
		return MovePrev
	case MoveKeyNext:
		return MoveKeyNext
	case MoveKeyPrev:
		return MoveKeyPrev
	case MoveDupFirst, MoveDupNext:
		return MoveDupNext
	case MoveDupLast, MoveDupPrev:
		return MoveDupPrev
	default:
		return op
	}
}

func (c *Cursor) rawMove(op MoveOp) ([]byte, []byte, error) {
	switch op {
	case MoveFirst:
		if c.lowerEP.kind == EndpointValue {
			return c.cur.Seek(c.lowerKey)
		}
		if c.anchorMirror {
			return c.cur.Last()
		}
		return c.cur.First()
	case MoveLast:
		if c.upperEP.kind == EndpointValue {
			k, _, err := c.cur.Seek(c.upperKey)
			if err != nil {
				return nil, nil, err
			}
			if k == nil {
				// upperKey lies past every stored key, so all of them are below it.
				return c.cur.Last()
			}
			// upper is exclusive: whether Seek landed exactly on it or past
			// it (upperKey absent from the store), the descending scan
			// starts one step before whatever it found.
			return c.cur.Prev()
		}
		if c.anchorMirror {
			return c.cur.First()
		}
		return c.cur.Last()
	case MoveNext:
		return c.cur.Next()
	case MovePrev:
		return c.cur.Prev()
	case MoveKeyNext:
		return c.cur.NextNoDup()
	case MoveKeyPrev:
		return c.cur.PrevNoDup()
	case MoveDupFirst:
		v, err := c.cur.FirstDup()
		return c.curKey, v, err
	case MoveDupLast:
		v, err := c.cur.LastDup()
		return c.curKey, v, err
	case MoveDupNext:
		return c.cur.NextDup()
	case MoveDupPrev:
		return c.cur.PrevDup()
	default:
		return nil, nil, nil
	}
}

// inRange applies the cursor's range semantics: inclusive-lower, exclusive-upper
// (unless the zero-length-is-point option turns a degenerate [x,x) into a
// single-key match), in the cursor's index order.
func (c *Cursor) inRange(key []byte) bool {
	if c.anchorOnly {
		if !c.anchorCaptured {
			return true
		}
		return bytes.Equal(key, c.anchorKey)
	}
	if c.zeroIsPoint && c.lowerEP.kind == EndpointValue {
		return bytes.Equal(key, c.lowerKey)
	}
	if c.lowerEP.kind == EndpointValue && c.cmp(key, c.lowerKey) < 0 {
		return false
	}
	if c.upperEP.kind == EndpointValue && c.cmp(key, c.upperKey) >= 0 {
		return false
	}
	return true
}

func (c *Cursor) unset() {
	c.positioned = false
	c.atEOF = true
	c.curKey, c.curVal = nil, nil
}

// Move repositions the cursor according to op.
func (c *Cursor) Move(op MoveOp) error {
	if err := c.txn.requireLive(); err != nil {
		return err
	}
	return c.move(op)
}

// Locate positions the cursor on the key derived from probeRow.
func (c *Cursor) Locate(exactly bool, probeRow *tuple.Row) error {
	if err := c.txn.requireLive(); err != nil {
		return err
	}
	if !c.col.Ordered && !exactly {
		return New(NoIndex, c.td.Name, c.col.Name)
	}
	key, err := encodeIndexKey(c.td, c.col, probeRow, c.txn.db.keyOpts())
	if err != nil {
		return err
	}
	var k, v []byte
	if exactly {
		k, v, err = c.cur.SeekExact(key)
	} else {
		k, v, err = c.cur.Seek(key)
	}
	if err != nil {
		return Wrap(Eoops, c.td.Name, c.col.Name, err)
	}
	if k == nil || (exactly && !bytes.Equal(k, key)) {
		c.unset()
		return New(NoData, c.td.Name, c.col.Name)
	}
	if !c.inRange(k) {
		c.unset()
		return New(NoData, c.td.Name, c.col.Name)
	}
	c.curKey, c.curVal, c.positioned, c.atEOF = k, v, true, false
	return nil
}

// Get returns the full row at the cursor, following the PK when the
// cursor is on a secondary index.
func (c *Cursor) Get() (*tuple.Row, error) {
	if err := c.txn.requireLive(); err != nil {
		return nil, err
	}
	if !c.positioned {
		return nil, New(Cursor, c.td.Name, c.col.Name)
	}
	return c.fetchRow()
}

func (c *Cursor) fetchRow() (*tuple.Row, error) {
	var pkKey []byte
	if c.col.Kind == schema.Primary {
		pkKey = c.curKey
	} else {
		pkKey = c.curVal
	}
	pkDBI, err := c.txn.dbiFor(c.td, c.pk.Slot)
	if err != nil {
		return nil, err
	}
	v, err := c.txn.ktx.Get(pkDBI, pkKey)
	if err != nil {
		return nil, Wrap(Eoops, c.td.Name, "", err)
	}
	if v == nil {
		return nil, New(NotFound, c.td.Name, c.pk.Name)
	}
	return tuple.Unmarshal(v)
}

// KeyResult is the outcome of reading the cursor's current key: Decode only
// round-trips losslessly for simple, Obverse, fixed-width/integer columns
// (keycodec.Decode); everything else (composite, variable-length, Reverse)
// comes back as the raw encoded bytes with HasValue false.
type KeyResult struct {
	Value    keycodec.Value
	HasValue bool
	Bytes    []byte
}

// Key returns the cursor's current index key, decoded where lossless.
func (c *Cursor) Key() (KeyResult, error) {
	if !c.positioned {
		return KeyResult{}, New(Cursor, c.td.Name, c.col.Name)
	}
	spec := keycodec.IndexSpec{Type: c.col.Type, Direction: c.col.Direction, Ordered: c.col.Ordered, Nullable: c.col.Nullable}
	if len(c.col.Composite) == 0 {
		if v, ok := keycodec.Decode(spec, c.curKey); ok {
			return KeyResult{Value: v, HasValue: true}, nil
		}
	}
	return KeyResult{Bytes: c.curKey}, nil
}

// Dups reports the number of duplicates sharing the current key, 1 on unique indexes.
func (c *Cursor) Dups() (uint64, error) {
	if !c.positioned {
		return 0, New(Cursor, c.td.Name, c.col.Name)
	}
	if c.col.Unique {
		return 1, nil
	}
	n, err := c.cur.CountDuplicates()
	if err != nil {
		return 0, Wrap(Eoops, c.td.Name, c.col.Name, err)
	}
	return n, nil
}

// Count counts rows remaining
// under the current range/filter from the current position, up to limit
// (0 means unlimited), without disturbing the cursor's own position. A
// scratch cursor does the walking so the caller's own cur/curKey/curVal
// are untouched.
func (c *Cursor) Count(limit int) (int, error) {
	if err := c.txn.requireLive(); err != nil {
		return 0, err
	}
	if !c.positioned {
		return 0, nil
	}
	scratch, err := c.txn.ktx.CursorDupSort(c.dbi)
	if err != nil {
		return 0, Wrap(Eoops, c.td.Name, c.col.Name, err)
	}
	defer scratch.Close()

	shadow := &Cursor{
		txn: c.txn, td: c.td, col: c.col, dbi: c.dbi, pk: c.pk,
		cur: scratch, cmp: c.cmp,
		lowerEP: c.lowerEP, upperEP: c.upperEP,
		lowerKey: c.lowerKey, upperKey: c.upperKey,
		zeroIsPoint: c.zeroIsPoint, order: c.order, filter: c.filter,
		anchorOnly: c.anchorOnly, anchorMirror: c.anchorMirror,
		anchorCaptured: c.anchorCaptured, anchorKey: c.anchorKey,
	}
	if c.col.Unique {
		if _, _, err := scratch.SeekExact(c.curKey); err != nil {
			return 0, Wrap(Eoops, c.td.Name, c.col.Name, err)
		}
	} else {
		if _, _, err := scratch.SeekBothExact(c.curKey, c.curVal); err != nil {
			return 0, Wrap(Eoops, c.td.Name, c.col.Name, err)
		}
	}
	shadow.curKey, shadow.curVal, shadow.positioned = c.curKey, c.curVal, true

	n := 0
	for shadow.positioned && !shadow.atEOF {
		n++
		if limit > 0 && n >= limit {
			break
		}
		op := MoveNext
		if shadow.order == Descending {
			op = MovePrev
		}
		if err := shadow.move(op); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Lag reports how many rows remain under the current range/filter from the
// current position to the end of the range. No cheaper page-level estimator
// is exposed by kv.CursorDupSort, so this counts exactly, same as Count(0),
// without disturbing the cursor.
func (c *Cursor) Lag() (int, error) {
	return c.Count(0)
}

// Eof reports whether the cursor is unpositioned.
func (c *Cursor) Eof() bool { return !c.positioned }

// Update overwrites the row at the cursor position: the row's own
// derived key on this cursor's index must not change, or KeyMismatch.
func (c *Cursor) Update(row *tuple.Row) error {
	if err := c.txn.requireLive(); err != nil {
		return err
	}
	if c.rwCur == nil || !c.positioned {
		return New(Cursor, c.td.Name, c.col.Name)
	}
	newKey, err := encodeIndexKey(c.td, c.col, row, c.txn.db.keyOpts())
	if err != nil {
		return err
	}
	if !bytes.Equal(newKey, c.curKey) {
		return New(KeyMismatch, c.td.Name, c.col.Name)
	}
	return c.txn.Update(c.td, row)
}

// Delete removes the row at the cursor. Under the default config.Unset
// policy the cursor is left unpositioned afterwards; under
// config.AdvanceInRange it takes one step on in its own order, becoming
// unset if that step leaves the range.
func (c *Cursor) Delete() error {
	if err := c.txn.requireLive(); err != nil {
		return err
	}
	if c.rwCur == nil || !c.positioned {
		return New(Cursor, c.td.Name, c.col.Name)
	}
	row, err := c.fetchRow()
	if err != nil {
		return err
	}
	if err := c.txn.Delete(c.td, row); err != nil {
		return err
	}

	if c.txn.db.opts.CursorAfterDelete == config.AdvanceInRange {
		op := MoveNext
		if c.order == Descending {
			op = MovePrev
		}
		return c.move(op)
	}
	c.unset()
	return nil
}

// Close releases the underlying K/V cursor handles.
func (c *Cursor) Close() {
	if c.cur != nil {
		c.cur.Close()
	}
}
