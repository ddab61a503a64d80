package vref

import (
	"github.com/gholt/vref/backend"
	"github.com/gholt/vref/codec"
)

// ivrKey identifies one ephemeron slot: an address together with the
// declared type it was vreffed or resolved as. Keeping type in the key is
// what lets two differently-typed IVRs that happen to share an address
// (a genuine payload+children collision across types) live as distinct
// cache entries instead of corrupting each other.
type ivrKey struct {
	addr Address
	typ  uint64
}

func hashIVRKey(k ivrKey) uint64 {
	h := uint64(k.addr)*1099511628211 ^ k.typ
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return h
}

// IVR is an immutable value reference: a handle to a content-addressed
// value of declared type T, parsed lazily on first Deref and cached in a
// weakly-held CacheSlot shared by every other live IVR[T] at the same
// address (structure sharing).
type IVR[T any] struct {
	addr  Address
	codec *Codec[T]
	slot  *CacheSlot
	space *Space
}

// Address returns the content address this handle refers to.
func (r *IVR[T]) Address() Address { return r.addr }

// Deref parses and returns the referenced value, satisfying it from the
// cache slot when the payload is already resident and falling back to a
// backend read plus codec.Get parse on a miss, filling the slot
// afterward so subsequent Deref calls through any IVR[T] at this address
// are O(1).
func (r *IVR[T]) Deref() (T, error) {
	var zero T
	if v, ok := r.slot.Get(); ok {
		return v.(T), nil
	}
	rec, err := r.space.readValue(r.addr)
	if err != nil {
		return zero, err
	}
	children := make([]Address, len(rec.Children))
	for i, c := range rec.Children {
		children[i] = backendToAddr(c)
	}
	v, err := r.parse(rec.Payload, children)
	if err != nil {
		return zero, err
	}
	r.slot.Fill(v, len(rec.Payload), len(rec.Children))
	return v, nil
}

func (r *IVR[T]) parse(payload []byte, children []Address) (T, error) {
	rawChildren := make([]codec.Addr, len(children))
	for i, c := range children {
		rawChildren[i] = addrToCodec(c)
	}
	g := &Get{inner: codec.NewGet(payload, rawChildren), space: r.space}
	v, err := r.codec.get(g)
	if err != nil {
		var zero T
		return zero, newParseError("Deref", err)
	}
	return v, nil
}

// Vref content-addresses value, returning a live handle to it:
//  1. serialize value with c's Put function
//  2. hash payload+children
//  3. look up the hash bucket; on a hit, re-verify byte equality (the hash
//     is only ever treated as a superset test) and reuse that address,
//     pinning it in-process before anyone can observe it at refcount 0
//  4. on a miss, reserve a fresh address and enqueue a PutValue command
//  5. register (or reuse) the ephemeron entry for (address, type) so
//     concurrent vrefs of equal values collapse onto one CacheSlot
func Vref[T any](space *Space, c *Codec[T], value T) (*IVR[T], error) {
	p := newPut()
	c.put(value, p)
	payload := p.inner.Payload()
	rawChildren := p.inner.Children()
	children := make([]backend.Addr, len(rawChildren))
	for i, ch := range rawChildren {
		children[i] = addrToBackend(codecToAddr(ch))
	}
	hash := contentHash(payload, children)

	addr, fresh, err := space.findOrAllocate(hash, payload, children)
	if err != nil {
		return nil, err
	}

	key := ivrKey{addr: addr, typ: c.id}
	slot, _ := space.ivrs.GetOrCreate(key, func() *CacheSlot {
		s := newEmptySlot()
		space.trackPin(addr, s)
		return s
	})
	if fresh {
		// The value is not yet necessarily resident on disk (the write
		// is only enqueued); fill the slot directly from what we
		// already have in hand rather than forcing the next Deref to
		// race the writer for it.
		slot.Fill(value, len(payload), len(children))
	}
	return &IVR[T]{addr: addr, codec: c, slot: slot, space: space}, nil
}

// resolveIVR returns a lazy, possibly-unfilled handle for an address
// already known to hold a T (reached by following a child pointer, or by
// RootDeref). It never touches the backend itself; Deref does that on
// demand, and the slot it returns is the same one Vref would hand back
// for an equal value, so dereferencing two paths to the same child
// address yields identical results without a second parse.
func resolveIVR[T any](space *Space, addr Address, c *Codec[T]) *IVR[T] {
	key := ivrKey{addr: addr, typ: c.id}
	slot, _ := space.ivrs.GetOrCreate(key, func() *CacheSlot {
		s := newEmptySlot()
		space.trackPin(addr, s)
		return s
	})
	return &IVR[T]{addr: addr, codec: c, slot: slot, space: space}
}

// DerefAt resolves and immediately dereferences addr as a T, a
// convenience for callers (such as cmd/vrefctl) that received an address
// out of band rather than by walking down from a parent value.
func DerefAt[T any](space *Space, addr Address, c *Codec[T]) (T, error) {
	return resolveIVR(space, addr, c).Deref()
}
