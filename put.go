package vref

import "github.com/gholt/vref/codec"

// Put accumulates one value's serialized payload and ordered child IVRs.
// It is the vref-level wrapper around codec.Put that lets child writes be
// expressed as typed IVR handles instead of raw addresses; by
// construction a child must already have been vreffed (and therefore
// already be content-addressed) before it can be written here, which is
// what rules out IVR cycles.
type Put struct {
	inner *codec.Put
}

func newPut() *Put { return &Put{inner: codec.NewPut()} }

// Byte appends a single byte.
func (p *Put) Byte(b byte) { p.inner.Byte(b) }

// Bytes appends b verbatim.
func (p *Put) Bytes(b []byte) { p.inner.Bytes(b) }

// Uvarint appends x as a variable-length unsigned integer.
func (p *Put) Uvarint(x uint64) { p.inner.Uvarint(x) }

// Varint appends x as a variable-length signed integer.
func (p *Put) Varint(x int64) { p.inner.Varint(x) }

// Uint64 appends x as 8 fixed big-endian bytes.
func (p *Put) Uint64(x uint64) { p.inner.Uint64(x) }

// PutChild appends child's address to the ordered child list. child is
// expected to belong to the same Space as the value being built; vref
// does not itself cross-check this, so mixing spaces is a programmer
// error that surfaces later as a dangling or wrong-content address.
func PutChild[T any](p *Put, child *IVR[T]) {
	p.inner.Child(addrToCodec(child.addr))
}
