package vref

import (
	"reflect"
	"sync"
	"sync/atomic"
)

var (
	typeIDs     sync.Map // map[reflect.Type]uint64
	nextTypeID  uint64
)

// typeIDOf returns a small, process-stable integer identifying T, assigned
// on first use. It backs the "(address, type)" and "(name, type)"
// ephemeron keys: two IVRs of differing declared types at the same
// address get distinct ephemerons because their type ids differ.
func typeIDOf[T any]() uint64 {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if v, ok := typeIDs.Load(rt); ok {
		return v.(uint64)
	}
	id := atomic.AddUint64(&nextTypeID, 1)
	actual, _ := typeIDs.LoadOrStore(rt, id)
	return actual.(uint64)
}

// Codec pairs a Put function and a Get function for one type T: the
// parser an IVR carries for its declared type. A Codec is stable for the
// lifetime of the process; its identity (via typeIDOf) is what keeps two
// different declared types at the same address from colliding in the
// ephemeron tables.
type Codec[T any] struct {
	id  uint64
	put func(T, *Put)
	get func(*Get) (T, error)
}

// NewCodec builds a Codec from a Put function and a Get function. Put must
// be pure and total in its output: it may not fail except by panicking,
// which is reserved for programmer error, not recoverable input problems
// (there is no "input" at Put time beyond the value itself).
func NewCodec[T any](put func(T, *Put), get func(*Get) (T, error)) *Codec[T] {
	return &Codec[T]{id: typeIDOf[T](), put: put, get: get}
}
