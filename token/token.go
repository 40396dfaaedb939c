// Package token implements the canonical version token identifier of one
// event position within one stream:
//
//	{object_name}__{object_id}__{stream_identifier}__{version20}
//
// version20 is the version zero-padded to 20 decimal digits so that
// lexicographic string ordering equals numeric ordering across every
// key-value backend this module targets.
package token

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nullstream/eventstream/errcode"
)

const versionWidth = 20

const separator = "__"

// Token is the parsed, comparable form of a version token string.
type Token struct {
	Object        string
	ID            string
	Stream        string
	Version       uint64
	AdvanceLatest bool
}

// Parse parses a canonical token string. The string must split into
// exactly four parts on "__"; the last part must be a 20-digit decimal
// non-negative integer.
func Parse(s string) (Token, error) {
	parts := strings.Split(s, separator)
	if len(parts) != 4 {
		return Token{}, errcode.New(errcode.CodeMalformedToken, errcode.Validation,
			fmt.Sprintf("expected 4 parts separated by %q, got %d", separator, len(parts)), nil)
	}
	if len(parts[3]) != versionWidth {
		return Token{}, errcode.New(errcode.CodeMalformedToken, errcode.Validation,
			fmt.Sprintf("version field must be %d digits, got %q", versionWidth, parts[3]), nil)
	}
	version, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return Token{}, errcode.New(errcode.CodeMalformedToken, errcode.Validation,
			fmt.Sprintf("version field %q is not a non-negative integer", parts[3]), err)
	}
	return Token{Object: parts[0], ID: parts[1], Stream: parts[2], Version: version}, nil
}

// Format renders the canonical token string for the given coordinates.
func Format(object, id, stream string, version uint64) string {
	return fmt.Sprintf("%s%s%s%s%s%s%0*d", object, separator, id, separator, stream, separator, versionWidth, version)
}

// String renders t back to its canonical form (ignoring AdvanceLatest,
// which is reader-side-only state, never part of the wire identifier).
func (t Token) String() string {
	return Format(t.Object, t.ID, t.Stream, t.Version)
}

// Ordering is the result of comparing two tokens of the same stream.
type Ordering int

const (
	Less Ordering = iota - 1
	Equal
	Greater
)

// Order compares a and b. Both must share the same object and stream;
// otherwise a CodeStreamMismatch (VAL-0002) validation error is returned.
func Order(a, b Token) (Ordering, error) {
	if a.Object != b.Object || a.Stream != b.Stream {
		return 0, errcode.New(errcode.CodeStreamMismatch, errcode.Validation,
			fmt.Sprintf("cannot compare tokens of different streams: %s/%s vs %s/%s", a.Object, a.Stream, b.Object, b.Stream), nil)
	}
	switch {
	case a.Version < b.Version:
		return Less, nil
	case a.Version > b.Version:
		return Greater, nil
	default:
		return Equal, nil
	}
}

// ToLatest returns a copy of t with AdvanceLatest set, used by readers
// that want to follow the tail of a stream rather than stop at a fixed
// version.
func (t Token) ToLatest() Token {
	t.AdvanceLatest = true
	return t
}
