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
	"math"

	"github.com/spaolacci/murmur3"

	"github.com/erigontech/tablestore/kv"
)

// FloatPolicy is the f64->f32 precision switch, mirrored locally so this
// package has no dependency on config.
type FloatPolicy uint8

const (
	Strict FloatPolicy = iota
	Lax
)

// Options carries the two engine-wide knobs the codec consults.
type Options struct {
	MaxKeyLen    int
	FloatPolicy  FloatPolicy
}

// ErrKind is a minimal local error taxonomy; the root package maps these
// onto the public ErrCode enum so keycodec stays independent of it.
type ErrKind uint8

const (
	ErrNone ErrKind = iota
	ErrTypeMismatch
	ErrOutOfDomain
	ErrLengthMismatch
)

type Error struct {
	Kind ErrKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func errOf(kind ErrKind, msg string) error { return &Error{Kind: kind, Msg: msg} }

// longKeyHashTail is the 64-bit, endian-stable digest appended after
// truncation of an overlong key. murmur3 64-bit sum is deterministic
// across platforms and process runs given identical input bytes, which
// is the only guarantee this rule needs.
func longKeyHashTail(suffix []byte, dir kv.Direction) []byte {
	h := murmur3.Sum64(suffix)
	var tail [8]byte
	binary.BigEndian.PutUint64(tail[:], h)
	if dir == kv.Reverse {
		// match the index's direction in the tail, same as every other
		// byte of a reverse-ordered variable-length key.
		reverseInPlace(tail[:])
	}
	return tail[:]
}

func reverseInPlace(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// truncateLong applies the long-key rule to an already-fully-encoded
// variable-length payload (raw or already direction-reversed).
func truncateLong(encoded []byte, maxKeyLen int, dir kv.Direction) []byte {
	if len(encoded) <= maxKeyLen {
		return encoded
	}
	cut := maxKeyLen - 8
	if cut < 0 {
		cut = 0
	}
	suffix := encoded[cut:]
	out := make([]byte, 0, maxKeyLen)
	out = append(out, encoded[:cut]...)
	out = append(out, longKeyHashTail(suffix, dir)...)
	return out
}

// Encode turns a typed value into the ordered byte key of a given index.
// Direction only changes where a nullable fixed-width value's DENIL
// sentinel sorts (see nullable.go); byte order for non-null fixed-width
// values is always the "obverse" memcmp-ordered encoding -- Reverse
// direction for a *simple* (non-composite) index is applied by
// kv.Comparators' reversed-byte comparator, not by this function, since a
// simple index's sub-DB comparator does the reversing itself rather than
// baking it into the key. Composite callers that need a
// physically-reversed component use EncodeComponent instead.
func Encode(spec IndexSpec, v Value, opts Options) ([]byte, error) {
	if v.Type != spec.Type {
		return nil, errOf(ErrTypeMismatch, "value type does not match column type")
	}
	if v.Null {
		if !spec.Nullable {
			return nil, errOf(ErrTypeMismatch, "column is not nullable")
		}
		return encodeNull(spec, opts)
	}
	return encodeComponent(spec.Type, v, opts, kv.Obverse)
}

// EncodeComponent is used by the composite package: it returns the
// per-component contribution with direction physically applied (bytes
// reversed for Reverse-direction components), since a composite's overall
// sub-DB comparator is always raw memcmp.
func EncodeComponent(t Type, v Value, opts Options, dir kv.Direction) ([]byte, error) {
	return encodeComponent(t, v, opts, dir)
}

func encodeComponent(t Type, v Value, opts Options, dir kv.Direction) ([]byte, error) {
	if v.Null {
		return encodeNull(IndexSpec{Type: t, Direction: dir}, opts)
	}
	switch t {
	case U16:
		return encodeUint(v.U, 2, dir)
	case U32:
		return encodeUint(v.U, 4, dir)
	case U64, Datetime:
		return encodeUint(v.U, 8, dir)
	case I32:
		return encodeInt(v.I, 4, dir)
	case I64:
		return encodeInt(v.I, 8, dir)
	case F32:
		return encodeF32(v, opts, dir)
	case F64:
		return encodeF64(v, dir)
	case Bin96:
		return encodeFixedBin(v.Bytes, 12, dir)
	case Bin128:
		return encodeFixedBin(v.Bytes, 16, dir)
	case Bin160:
		return encodeFixedBin(v.Bytes, 20, dir)
	case Bin256:
		return encodeFixedBin(v.Bytes, 32, dir)
	case BinVar, CStrVar:
		return encodeVar(v.Bytes, opts, dir)
	default:
		return nil, errOf(ErrTypeMismatch, "unknown type")
	}
}

func encodeUint(val uint64, width int, dir kv.Direction) ([]byte, error) {
	max := uint64(1)<<(uint(width)*8) - 1
	if width == 8 {
		max = math.MaxUint64
	}
	if val > max {
		return nil, errOf(ErrOutOfDomain, "unsigned value does not fit declared width")
	}
	buf := make([]byte, width)
	switch width {
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(val))
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(val))
	case 8:
		binary.BigEndian.PutUint64(buf, val)
	}
	if dir == kv.Reverse {
		reverseInPlace(buf)
	}
	return buf, nil
}

func encodeInt(val int64, width int, dir kv.Direction) ([]byte, error) {
	var lo, hi int64
	switch width {
	case 4:
		lo, hi = math.MinInt32, math.MaxInt32
	case 8:
		lo, hi = math.MinInt64, math.MaxInt64
	}
	if val < lo || val > hi {
		return nil, errOf(ErrOutOfDomain, "signed value does not fit declared width")
	}
	// Bias by 2^(W-1) (flip the sign bit) so memcmp over the biased
	// big-endian encoding matches two's-complement numeric order.
	biased := uint64(val) + (uint64(1) << (uint(width)*8 - 1))
	buf := make([]byte, width)
	switch width {
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(biased))
	case 8:
		binary.BigEndian.PutUint64(buf, biased)
	}
	if dir == kv.Reverse {
		reverseInPlace(buf)
	}
	return buf, nil
}

// floatOrderedBits64 (and floatOrderedBits32 below) implement the total-order trick: flip all bits if
// the sign bit is set (negative, including -Inf and negative NaNs), else
// flip only the sign bit. This makes memcmp over the result agree with
// numeric order for finite values, puts -Inf/+Inf at the extremes and
// NaNs at the outer ends.
func floatOrderedBits64(bits uint64) uint64 {
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func floatOrderedBits32(bits uint32) uint32 {
	if bits&(1<<31) != 0 {
		return ^bits
	}
	return bits | (1 << 31)
}

func encodeF64(v Value, dir kv.Direction) ([]byte, error) {
	bits := f64Bits(v.F)
	ordered := floatOrderedBits64(bits)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, ordered)
	if dir == kv.Reverse {
		reverseInPlace(buf)
	}
	return buf, nil
}

func encodeF32(v Value, opts Options, dir kv.Direction) ([]byte, error) {
	f32 := float32(v.F)
	if float64(f32) != v.F {
		// Overflow (magnitude exceeds float32 range) is always rejected;
		// mantissa truncation is only rejected under the strict policy.
		if math.IsInf(float64(f32), 0) && !math.IsInf(v.F, 0) {
			return nil, errOf(ErrOutOfDomain, "f64 value overflows f32 range")
		}
		if opts.FloatPolicy == Strict {
			return nil, errOf(ErrOutOfDomain, "f64 value would lose precision narrowing to f32")
		}
	}
	bits := f32Bits(f32)
	ordered := floatOrderedBits32(bits)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, ordered)
	if dir == kv.Reverse {
		reverseInPlace(buf)
	}
	return buf, nil
}

func encodeFixedBin(b []byte, width int, dir kv.Direction) ([]byte, error) {
	if len(b) != width {
		return nil, errOf(ErrLengthMismatch, "fixed-size binary value has wrong length")
	}
	out := make([]byte, width)
	copy(out, b)
	if dir == kv.Reverse {
		reverseInPlace(out)
	}
	return out, nil
}

func encodeVar(b []byte, opts Options, dir kv.Direction) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	if dir == kv.Reverse {
		reverseInPlace(out)
	}
	return truncateLong(out, opts.MaxKeyLen, dir), nil
}
