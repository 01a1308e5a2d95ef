// Package machoerr defines the decode error taxonomy shared by every
// Mach-O sub-decoder: the byte cursor, the load command stream, the
// export trie, the chained fixups walker and the code signature parser
// all fail through the same small set of kinds so a caller can branch
// on what went wrong without parsing error strings.
package machoerr

import (
	"errors"
	"fmt"
)

// Kind classifies why a decode operation failed.
type Kind int

const (
	// OutOfBounds means a read or seek would cross the end of the
	// buffer, segment or section being decoded.
	OutOfBounds Kind = iota
	// BadMagic means a magic number did not match any recognized
	// Mach-O, fat, or blob variant.
	BadMagic
	// MalformedRecord means a fixed-size record failed an internal
	// consistency check (a count field implies more data than is
	// present, a size field is smaller than its own header, etc).
	MalformedRecord
	// UnsupportedVersion means a versioned record reports a version
	// this decoder does not know how to interpret.
	UnsupportedVersion
	// CycleDetected means a graph walk (export trie children, chained
	// fixup pointer chains) revisited an offset it had already visited.
	CycleDetected
	// TruncatedBlob means a nested blob's declared length runs past
	// the end of its containing buffer.
	TruncatedBlob
	// UnknownDiscriminant means a tagged union's tag value has no
	// known variant; the caller may choose to retain the payload
	// opaquely rather than treat this as fatal.
	UnknownDiscriminant
)

func (k Kind) String() string {
	switch k {
	case OutOfBounds:
		return "out of bounds"
	case BadMagic:
		return "bad magic"
	case MalformedRecord:
		return "malformed record"
	case UnsupportedVersion:
		return "unsupported version"
	case CycleDetected:
		return "cycle detected"
	case TruncatedBlob:
		return "truncated blob"
	case UnknownDiscriminant:
		return "unknown discriminant"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the concrete error type returned by the sub-decoders; the
// top-level File/FatFile framing in package macho reports *FormatError.
// Component names the sub-decoder that raised it ("export trie",
// "chained fixups", "code signature", ...), Offset is the byte offset
// within that component's input the failure pertains to, and Detail is
// a short human description.
type Error struct {
	Kind      Kind
	Component string
	Offset    int64
	Detail    string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s at offset %#x", e.Component, e.Kind, e.Offset)
	}
	return fmt.Sprintf("%s: %s at offset %#x: %s", e.Component, e.Kind, e.Offset, e.Detail)
}

// New builds an *Error for the given component and kind.
func New(component string, kind Kind, offset int64, detail string) *Error {
	return &Error{Kind: kind, Component: component, Offset: offset, Detail: detail}
}

// KindOf reports the Kind of err if it (or something it wraps) is a
// *machoerr.Error, and ok=false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	type kinder interface{ machoerrKind() Kind }
	var k kinder
	if errors.As(err, &k) {
		return k.machoerrKind(), true
	}
	return 0, false
}

func (e *Error) machoerrKind() Kind { return e.Kind }
