// Package backend defines the contract the core needs from an embedded
// memory-mapped key/value engine, and implements it over go.etcd.io/bbolt,
// an LMDB-lineage ordered B+tree over an mmap'd file offering exactly the
// multi-reader/single-writer MVCC semantics a content-addressed store
// needs. Nothing above this package (the writer, the content index, the
// ephemeron tables) knows that bbolt specifically is behind Engine; a
// different ordered-map engine with the same transaction shape could be
// substituted without touching them.
package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFull is returned by Txn writes when the engine refuses further
// writes (its backing map is exhausted). The vref package does not
// translate it into vref.ErrStoreFull; it reaches vref callers unchanged.
var ErrFull = errors.New("backend: store full")

// Addr is the raw 64 bit address type used at the backend boundary,
// mirroring codec.Addr and vref.Address without importing either (this
// package sits below both in the dependency graph).
type Addr uint64

// Bytes big-endian encodes a.
func (a Addr) Bytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(a))
	return b
}

func addrFromBytes(b []byte) Addr { return Addr(binary.BigEndian.Uint64(b)) }

// ValueRecord is one entry of the values table: the payload bytes and the
// ordered child addresses produced by a Put, persisted as:
//
//	varint(payload_len) || payload_bytes || varint(n_children) || address[n_children]
//
// Addresses in the child list are each fixed 8 byte big-endian, which is
// what lets a GC walk make this call without running any type-specific
// parser.
type ValueRecord struct {
	Payload  []byte
	Children []Addr
}

// EncodeValueRecord produces the on-disk byte form of a ValueRecord.
func EncodeValueRecord(r ValueRecord) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(r.Payload)+binary.MaxVarintLen64+8*len(r.Children))
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(r.Payload)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, r.Payload...)
	n = binary.PutUvarint(tmp[:], uint64(len(r.Children)))
	buf = append(buf, tmp[:n]...)
	for _, c := range r.Children {
		b := c.Bytes()
		buf = append(buf, b[:]...)
	}
	return buf
}

// DecodeValueRecord parses the on-disk byte form of a ValueRecord.
func DecodeValueRecord(b []byte) (ValueRecord, error) {
	payloadLen, n := binary.Uvarint(b)
	if n <= 0 {
		return ValueRecord{}, fmt.Errorf("backend: truncated value record (payload length)")
	}
	b = b[n:]
	if uint64(len(b)) < payloadLen {
		return ValueRecord{}, fmt.Errorf("backend: truncated value record (payload body)")
	}
	payload := b[:payloadLen]
	b = b[payloadLen:]
	nChildren, n := binary.Uvarint(b)
	if n <= 0 {
		return ValueRecord{}, fmt.Errorf("backend: truncated value record (child count)")
	}
	b = b[n:]
	if uint64(len(b)) != nChildren*8 {
		return ValueRecord{}, fmt.Errorf("backend: value record has %d trailing bytes for %d children", len(b), nChildren)
	}
	children := make([]Addr, nChildren)
	for i := range children {
		children[i] = addrFromBytes(b[i*8 : i*8+8])
	}
	return ValueRecord{Payload: payload, Children: children}, nil
}

// Txn is the set of operations the writer and readers need from one
// backing-engine transaction (read-only or read-write) against the four
// logical tables plus the refct0 reclamation queue.
type Txn interface {
	// GetValue returns the stored record at addr, or ok=false if absent.
	GetValue(addr Addr) (rec ValueRecord, ok bool, err error)
	// PutValue stores (or overwrites) the record at addr.
	PutValue(addr Addr, rec ValueRecord) error
	// DeleteValue removes the record at addr.
	DeleteValue(addr Addr) error

	// GetRoot returns the address a named root is bound to.
	GetRoot(name []byte) (addr Addr, ok bool, err error)
	// PutRoot binds name to addr.
	PutRoot(name []byte, addr Addr) error
	// DeleteRoot unbinds name.
	DeleteRoot(name []byte) error

	// HashBucket returns every address currently recorded under hash. This
	// is only ever a superset of addresses whose current serialized payload
	// hashes there; callers must re-check byte equality themselves.
	HashBucket(hash [16]byte) ([]Addr, error)
	// SetHashBucket overwrites the full bucket contents for hash.
	SetHashBucket(hash [16]byte, addrs []Addr) error

	// GetRefcount returns the refcount of addr; ok=false means 0 and the
	// address is either absent or pending reclamation.
	GetRefcount(addr Addr) (count uint64, ok bool, err error)
	// SetRefcount sets the refcount of addr. A count of 0 deletes the
	// entry (absence is equivalent to refcount 0).
	SetRefcount(addr Addr, count uint64) error

	// EnqueueRefct0 appends addr to the back of the refct0 queue.
	EnqueueRefct0(addr Addr) error
	// DequeueRefct0 pops up to max addresses from the front of the
	// refct0 queue, in production order, removing them from the queue.
	DequeueRefct0(max int) ([]Addr, error)

	// NextAddresses atomically reserves and returns n consecutive fresh
	// addresses, advancing the persisted monotonic counter. This is the
	// writer's sole path to address allocation.
	NextAddresses(n int) (first Addr, err error)
}

// Engine is the external backing-engine contract: an ordered map with
// MVCC, multi-reader/single-writer, named logical tables, and atomic
// commit/abort.
type Engine interface {
	// View runs fn in a read-only transaction against a consistent
	// snapshot. The snapshot remains valid for the duration of fn even if
	// concurrent writers commit.
	View(fn func(Txn) error) error
	// Update runs fn in the single read-write transaction slot; only one
	// Update may be in flight at a time.
	Update(fn func(Txn) error) error
	// Sync forces any buffered writes to stable storage (used to satisfy
	// durable transaction waiters).
	Sync() error
	// Close releases the engine's resources. It does not release the
	// file lock, which is a layer above this package.
	Close() error
}
