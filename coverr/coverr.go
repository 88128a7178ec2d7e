// This file is part of cov.
//
// cov is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cov is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with cov.  If not, see <https://www.gnu.org/licenses/>.

// Package coverr defines the error taxonomy used throughout the gcov
// parsing, graph and report packages.
package coverr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. Callers pattern-match against Kind rather than
// against error message text.
type Kind int

const (
	// Io wraps an underlying I/O failure (file open, short read) that is
	// not itself a coverage-format problem.
	Io Kind = iota
	// UnexpectedEof means a record or its payload was cut off mid-stream.
	UnexpectedEof
	// BadMagic means the first four bytes did not match any known gcov
	// magic number.
	BadMagic
	// UnsupportedVersion means the version field failed the 0x808080FF
	// validity mask.
	UnsupportedVersion
	// VersionMismatch means a second or later file merged into a Graph
	// named a version different from the one established by the first.
	VersionMismatch
	// MalformedRecord means a record's declared length or internal shape
	// was inconsistent with its tag.
	MalformedRecord
	// UnsupportedAttr means a block or arc attribute word carried a flag
	// bit GCC never persists to a GCNO file.
	UnsupportedAttr
	// UnknownTag means a record tag this module does not recognise was
	// encountered. The reader stops and returns this error.
	UnknownTag
	// InconsistentGraph means flow-balance propagation could not resolve
	// every block and arc count under Options.Strict.
	InconsistentGraph
	// UnresolvedFunction means a GCDA function record had no matching
	// GCNO function by nominal identity.
	UnresolvedFunction
	// DuplicateFunction means two GCNO function records claimed the same
	// structural identity with conflicting shapes.
	DuplicateFunction
	// CountsMismatch means a GCDA ARC_COUNTS record carried a different
	// number of counts than the matching function has real arcs.
	CountsMismatch
	// Utf8 means a length-prefixed string was not valid UTF-8.
	Utf8
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case UnexpectedEof:
		return "unexpected eof"
	case BadMagic:
		return "bad magic"
	case UnsupportedVersion:
		return "unsupported version"
	case VersionMismatch:
		return "version mismatch"
	case MalformedRecord:
		return "malformed record"
	case UnsupportedAttr:
		return "unsupported attribute"
	case UnknownTag:
		return "unknown tag"
	case InconsistentGraph:
		return "inconsistent graph"
	case UnresolvedFunction:
		return "unresolved function"
	case DuplicateFunction:
		return "duplicate function"
	case CountsMismatch:
		return "counts mismatch"
	case Utf8:
		return "invalid utf8"
	default:
		return "unknown error kind"
	}
}

// Location pinpoints where in an input stream an Error was detected.
type Location struct {
	File         string
	Cursor       int64
	HasCursor    bool
	RecordIndex  int
	HasRecordIdx bool
}

func (l Location) String() string {
	if l.File == "" && !l.HasCursor && !l.HasRecordIdx {
		return ""
	}
	s := l.File
	if l.HasRecordIdx {
		s = fmt.Sprintf("%s record #%d", s, l.RecordIndex)
	}
	if l.HasCursor {
		s = fmt.Sprintf("%s offset 0x%x", s, l.Cursor)
	}
	return s
}

// Error is the error type produced throughout this module. It carries a
// Kind for programmatic matching via Is, an optional wrapped cause, and an
// optional Location.
type Error struct {
	kind    Kind
	pattern string
	values  []any
	cause   error
	loc     Location
}

// Errorf creates a new Error of the given Kind. Like curated.Errorf, the
// message is not formatted until Error() is called.
func Errorf(kind Kind, pattern string, values ...any) *Error {
	return &Error{kind: kind, pattern: pattern, values: values}
}

// Wrap creates a new Error of the given Kind that chains to cause.
func Wrap(kind Kind, cause error, pattern string, values ...any) *Error {
	return &Error{kind: kind, pattern: pattern, values: values, cause: cause}
}

// Kind returns the error's Kind.
func (e *Error) Kind() Kind { return e.kind }

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf(e.pattern, e.values...)
	if loc := e.loc.String(); loc != "" {
		msg = fmt.Sprintf("%s: %s", loc, msg)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.cause.Error())
	}
	return msg
}

// Unwrap allows errors.Is/As and coverr.Is to see through the wrap chain.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err is, or wraps, a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.kind == kind {
				return true
			}
			err = e.cause
			continue
		}
		return false
	}
	return false
}

// AtCursor returns err (which must be a *Error) annotated with a byte
// offset into the current input stream.
func AtCursor(err error, offset int64) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	e.loc.Cursor = offset
	e.loc.HasCursor = true
	return e
}

// AtRecord returns err (which must be a *Error) annotated with the index of
// the record being parsed when it occurred.
func AtRecord(err error, index int) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	e.loc.RecordIndex = index
	e.loc.HasRecordIdx = true
	return e
}

// AtFile returns err (which must be a *Error) annotated with the file path
// being read when it occurred.
func AtFile(err error, file string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	e.loc.File = file
	return e
}
