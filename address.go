package vref

import (
	"encoding/binary"

	"github.com/gholt/vref/backend"
	"github.com/gholt/vref/codec"
)

// Address is the 64 bit identifier of a value stored in a Space. The zero
// value is the sentinel for "null" or "unset" and is never assigned to a
// live value.
type Address uint64

// NullAddress is the reserved sentinel value.
const NullAddress Address = 0

// IsNull reports whether a is the sentinel address.
func (a Address) IsNull() bool { return a == NullAddress }

// Bytes returns the big-endian 8 byte encoding used as the key into the
// values table and wherever an address is stored as a fixed-width field.
func (a Address) Bytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(a))
	return b
}

// addressFromBytes decodes a big-endian 8 byte address.
func addressFromBytes(b []byte) Address {
	return Address(binary.BigEndian.Uint64(b))
}

func addrToCodec(a Address) codec.Addr   { return codec.Addr(a) }
func codecToAddr(a codec.Addr) Address   { return Address(a) }
func addrToBackend(a Address) backend.Addr { return backend.Addr(a) }
func backendToAddr(a backend.Addr) Address { return Address(a) }
