package sqlcore

import (
	"errors"
	"fmt"
)

// Kind is the open enumeration of error kinds surfaced at the package
// boundary. Callers branch on Kind rather than string-matching Error().
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindTLS
	KindProtocol
	KindConfiguration
	KindDatabase
	KindRowNotFound
	KindColumnNotFound
	KindColumnIndexOutOfBounds
	KindColumnDecode
	KindEncode
	KindDecode
	KindPoolTimedOut
	KindPoolClosed
	KindWorkerCrashed
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "Io"
	case KindTLS:
		return "Tls"
	case KindProtocol:
		return "Protocol"
	case KindConfiguration:
		return "Configuration"
	case KindDatabase:
		return "Database"
	case KindRowNotFound:
		return "RowNotFound"
	case KindColumnNotFound:
		return "ColumnNotFound"
	case KindColumnIndexOutOfBounds:
		return "ColumnIndexOutOfBounds"
	case KindColumnDecode:
		return "ColumnDecode"
	case KindEncode:
		return "Encode"
	case KindDecode:
		return "Decode"
	case KindPoolTimedOut:
		return "PoolTimedOut"
	case KindPoolClosed:
		return "PoolClosed"
	case KindWorkerCrashed:
		return "WorkerCrashed"
	default:
		return "Unknown"
	}
}

// DatabaseErrorKind narrows KindDatabase into a constraint taxonomy so
// callers can tell which unique index or foreign key fired without
// string-matching the native message.
type DatabaseErrorKind int

const (
	DBUnknown DatabaseErrorKind = iota
	DBUnique
	DBForeignKey
	DBNotNull
	DBCheck
	DBOther
)

// Error is the single error type this module returns at its boundary.
// It carries the open Kind enumeration plus, for KindDatabase, the
// native code/message/constraint the server reported.
type Error struct {
	Kind Kind
	// DBKind narrows KindDatabase errors; zero value for other kinds.
	DBKind DatabaseErrorKind
	// Code is the native error code (Postgres SQLSTATE, MySQL error
	// number as a string) when Kind == KindDatabase.
	Code string
	// Constraint is the constraint name, when the server reported one.
	Constraint string
	// Position is the 1-based byte position of a syntax error, Postgres only.
	Position int
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Kind == KindDatabase {
		if e.Constraint != "" {
			return fmt.Sprintf("database error [%s] (constraint %q): %s", e.Code, e.Constraint, e.Message)
		}
		return fmt.Sprintf("database error [%s]: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets sentinel checks like errors.Is(err, sqlcore.ErrRowNotFound)
// match any *Error with the matching Kind, independent of message text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == KindDatabase && t.DBKind != DBUnknown {
		return e.Kind == KindDatabase && e.DBKind == t.DBKind
	}
	return e.Kind == t.Kind
}

// Sentinel errors for the common errors.Is comparisons.
var (
	ErrRowNotFound = &Error{Kind: KindRowNotFound, Message: "no rows in result set"}
	ErrPoolTimeout = &Error{Kind: KindPoolTimedOut, Message: "timed out acquiring connection"}
	ErrPoolClosed  = &Error{Kind: KindPoolClosed, Message: "pool is closed"}
	ErrUnique      = &Error{Kind: KindDatabase, DBKind: DBUnique}
	ErrForeignKey  = &Error{Kind: KindDatabase, DBKind: DBForeignKey}
	ErrNotNull     = &Error{Kind: KindDatabase, DBKind: DBNotNull}
	ErrCheck       = &Error{Kind: KindDatabase, DBKind: DBCheck}
)

// Wrap builds an *Error of the given kind around cause, formatting
// Message action-first, lowercase, with no trailing punctuation.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// AsError reports whether err (or something it wraps) is an *Error, and
// returns it.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
