package vref

import "errors"

// Error kinds surfaced across the store, per the error handling design:
// parse/type errors are recoverable by the caller, Store/Lock/Invariant
// errors are not.
var (
	// ErrNotFound indicates a named root has no bound address, or that an
	// address a caller expected to be resident has no stored record.
	ErrNotFound = errors.New("vref: not found")

	// ErrTypeMismatch indicates an address was reopened as a type whose
	// parser disagrees with the type it was originally stored with.
	ErrTypeMismatch = errors.New("vref: type mismatch at address")

	// ErrStoreFull indicates the backing engine refused a write because
	// its map size (or disk) is exhausted.
	ErrStoreFull = errors.New("vref: store full")

	// ErrLockContention indicates another process (or another Space in
	// this one) already holds the file lock.
	ErrLockContention = errors.New("vref: store already locked")

	// ErrClosed indicates an operation was attempted on a closed Space.
	ErrClosed = errors.New("vref: space is closed")

	// ErrInternalInvariant is logged by the writer when a refcount update
	// would go below zero. The writer clamps that count to zero and goes on
	// with the batch; it does not halt, and the error is not returned to
	// any caller. Hash-bucket inconsistencies and missing children are not
	// checked for.
	ErrInternalInvariant = errors.New("vref: internal invariant violated")
)

// ParseError is returned by Get when the byte cursor or child-address
// queue cannot satisfy a parser, including isolate's exact-consumption
// check. It is recoverable inside Alternative.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "vref: parse error in " + e.Op
	}
	return "vref: parse error in " + e.Op + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(op string, err error) *ParseError {
	return &ParseError{Op: op, Err: err}
}
