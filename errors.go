// Copyright 2021 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package tablestore

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCode is the closed error taxonomy the engine produces. Zero is Ok.
type ErrCode uint8

const (
	Ok ErrCode = iota
	NotFound
	NoData
	KeyExists
	TypeMismatch
	OutOfDomain
	LengthMismatch
	ColumnMissing
	FlagInvalid
	NameInvalid
	TypeInvalid
	SimilarIndex
	NoIndex
	SchemaChanged
	TxnCancelled
	DbFull
	Cursor
	KeyMismatch
	Eoops
	Einval
)

// Error satisfies the error interface so an ErrCode can be passed directly
// as errors.Is's target (errors.Is(err, tablestore.KeyExists)).
func (c ErrCode) Error() string { return c.String() }

func (c ErrCode) String() string {
	switch c {
	case Ok:
		return "Ok"
	case NotFound:
		return "NotFound"
	case NoData:
		return "NoData"
	case KeyExists:
		return "KeyExists"
	case TypeMismatch:
		return "TypeMismatch"
	case OutOfDomain:
		return "OutOfDomain"
	case LengthMismatch:
		return "LengthMismatch"
	case ColumnMissing:
		return "ColumnMissing"
	case FlagInvalid:
		return "FlagInvalid"
	case NameInvalid:
		return "NameInvalid"
	case TypeInvalid:
		return "TypeInvalid"
	case SimilarIndex:
		return "SimilarIndex"
	case NoIndex:
		return "NoIndex"
	case SchemaChanged:
		return "SchemaChanged"
	case TxnCancelled:
		return "TxnCancelled"
	case DbFull:
		return "DbFull"
	case Cursor:
		return "Cursor"
	case KeyMismatch:
		return "KeyMismatch"
	case Eoops:
		return "Eoops"
	case Einval:
		return "Einval"
	default:
		return fmt.Sprintf("ErrCode(%d)", uint8(c))
	}
}

// Error is the error value every public API returns for recoverable
// conditions. Programmer-error codes (Eoops, Einval) carry a stack trace
// via github.com/pkg/errors so debug builds can report where the bad call
// originated; user-facing codes (NotFound, KeyExists, ...) normally don't
// need one and are constructed with New.
type Error struct {
	Code  ErrCode
	Table string
	Field string
	cause error
}

func (e *Error) Error() string {
	if e.Table == "" && e.Field == "" {
		return e.Code.String()
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: table %q", e.Code, e.Table)
	}
	return fmt.Sprintf("%s: table %q column %q", e.Code, e.Table, e.Field)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, tablestore.KeyExists) work directly against an ErrCode.
func (e *Error) Is(target error) bool {
	if code, ok := target.(ErrCode); ok {
		return e.Code == code
	}
	return false
}

// New builds an *Error with no wrapped cause.
func New(code ErrCode, table, field string) error {
	return &Error{Code: code, Table: table, Field: field}
}

// Wrap builds an *Error carrying cause, stack-annotated for the
// programmer-error codes where the original call site matters.
func Wrap(code ErrCode, table, field string, cause error) error {
	if cause == nil {
		return New(code, table, field)
	}
	if code == Eoops || code == Einval {
		cause = errors.WithStack(cause)
	}
	return &Error{Code: code, Table: table, Field: field, cause: cause}
}

// CodeOf extracts the ErrCode from err, or Ok if err is nil, or Eoops if
// err is a foreign error this package didn't produce.
func CodeOf(err error) ErrCode {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Eoops
}
