package vref

import "github.com/gholt/vref/codec"

// Get is the vref-level recursive-descent parser wrapper around codec.Get,
// adding the ability to consume a child address and resolve it into a
// lazily-dereferenceable typed IVR handle within the owning Space.
type Get struct {
	inner *codec.Get
	space *Space
}

// Byte reads a single byte.
func (g *Get) Byte() (byte, error) {
	b, err := g.inner.Byte()
	if err != nil {
		return 0, newParseError("Byte", err)
	}
	return b, nil
}

// Bytes reads exactly n bytes.
func (g *Get) Bytes(n int) ([]byte, error) {
	b, err := g.inner.Bytes(n)
	if err != nil {
		return nil, newParseError("Bytes", err)
	}
	return b, nil
}

// Uvarint reads a variable-length unsigned integer.
func (g *Get) Uvarint() (uint64, error) {
	x, err := g.inner.Uvarint()
	if err != nil {
		return 0, newParseError("Uvarint", err)
	}
	return x, nil
}

// Varint reads a variable-length signed integer.
func (g *Get) Varint() (int64, error) {
	x, err := g.inner.Varint()
	if err != nil {
		return 0, newParseError("Varint", err)
	}
	return x, nil
}

// Uint64 reads 8 fixed big-endian bytes.
func (g *Get) Uint64() (uint64, error) {
	x, err := g.inner.Uint64()
	if err != nil {
		return 0, newParseError("Uint64", err)
	}
	return x, nil
}

// GetChild consumes the next child address and returns a lazy, typed IVR
// handle for it, resolved against the same ephemeron table Vref uses, so
// a child reached this way shares identity (and cache slot) with any
// other live IVR[C] at the same address.
func GetChild[C any](g *Get, c *Codec[C]) (*IVR[C], error) {
	a, err := g.inner.NextChild()
	if err != nil {
		return nil, newParseError("NextChild", err)
	}
	return resolveIVR(g.space, codecToAddr(a), c), nil
}

// Isolate narrows g to the next n payload bytes and k children, running fn
// and failing unless it consumes exactly that much.
func Isolate[T any](g *Get, n, k int, fn func(*Get) (T, error)) (T, error) {
	v, err := codec.Isolate(g.inner, n, k, func(inner *codec.Get) (T, error) {
		return fn(&Get{inner: inner, space: g.space})
	})
	if err != nil {
		var zero T
		return zero, newParseError("Isolate", err)
	}
	return v, nil
}

// Alternative runs left; on failure it rewinds and runs right, giving Get
// recoverable-failure semantics for choice points in a parser.
func Alternative[T any](g *Get, left, right func(*Get) (T, error)) (T, error) {
	return codec.Alternative(g.inner,
		func(inner *codec.Get) (T, error) { return left(&Get{inner: inner, space: g.space}) },
		func(inner *codec.Get) (T, error) { return right(&Get{inner: inner, space: g.space}) },
	)
}
