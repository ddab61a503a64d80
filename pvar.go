package vref

import (
	"github.com/gholt/vref/backend"
	"github.com/gholt/vref/codec"
	stm "github.com/tiancaiamao/stm"
)

// pvKey identifies a named root together with the declared type it was
// resolved as, mirroring ivrKey's reasoning for why type belongs in the
// ephemeron key.
type pvKey struct {
	name string
	typ  uint64
}

func hashPVKey(k pvKey) uint64 {
	h := uint64(14695981039346656037)
	for i := 0; i < len(k.name); i++ {
		h ^= uint64(k.name[i])
		h *= 1099511628211
	}
	h ^= k.typ
	h *= 1099511628211
	return h
}

// pvCell is the non-generic cell shared by every PV[T] handle pointing at
// the same named root: an stm.Var holding the current value boxed as
// any, plus the address of its last committed value (used by the writer to
// compute refcount deltas when a commit replaces it).
type pvCell struct {
	varr     *stm.Var
	name     []byte
	typ      uint64
	space    *Space
	putFn    func(any, *Put) ([]byte, []backend.Addr)
	lastAddr Address // zero until the first successful commit
}

// PV is a persistent, mutable named variable: unlike an IVR its identity
// is the name, not its content, and its value can change over the
// lifetime of the Space.
type PV[T any] struct {
	cell  *pvCell
	codec *Codec[T]
}

// Name returns the root's name.
func (pv *PV[T]) Name() []byte { return pv.cell.name }

// ReadPV takes a one-shot snapshot of pv's current value outside of any
// caller-composed transaction, for callers (such as cmd/vrefctl) that
// just want to read one root rather than compose a VTx.
func ReadPV[T any](pv *PV[T]) (T, error) {
	var out T
	err := Atomically(pv.cell.space, false, func(tx *VTx) error {
		v, err := ReadPVar(tx, pv)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ResolvePV resolves (creating if absent) the named root as a PV[T]. If
// the root does not yet exist on disk it is seeded with initial and an
// initial, non-durable commit is enqueued so the binding is observable by
// later Opens of the same Space even if nobody explicitly writes to it.
func ResolvePV[T any](space *Space, name []byte, c *Codec[T], initial T) (*PV[T], error) {
	key := pvKey{name: string(name), typ: c.id}
	var createErr error
	var needsSeedCommit bool
	cell, loaded := space.pvs.GetOrCreate(key, func() *pvCell {
		addr, ok, err := space.readRoot(name)
		cell := &pvCell{name: append([]byte(nil), name...), typ: c.id, space: space}
		cell.putFn = func(v any, p *Put) ([]byte, []backend.Addr) {
			c.put(v.(T), p)
			return p.inner.Payload(), addrsToBackend(p.inner.Children())
		}
		if err != nil {
			createErr = err
			cell.varr = newSTMVar(initial)
			return cell
		}
		if !ok {
			cell.varr = newSTMVar(initial)
			needsSeedCommit = true
			return cell
		}
		ivr := resolveIVR(space, addr, c)
		v, derefErr := ivr.Deref()
		if derefErr != nil {
			createErr = derefErr
			cell.varr = newSTMVar(initial)
			return cell
		}
		cell.lastAddr = addr
		cell.varr = newSTMVar(v)
		return cell
	})
	if createErr != nil {
		return nil, createErr
	}
	// The seed commit send has to happen after GetOrCreate returns, not
	// inside its create closure: that closure runs with the ephemeron
	// shard's lock held, and writeCh (buffered 1024) can fill under load,
	// which would block every other lookup sharing this key's shard.
	// loaded=false is exactly the signal that this call won GetOrCreate's
	// internal race and is the one that should enqueue the seed, so a
	// concurrent ResolvePV racing on the same absent root never
	// double-enqueues it.
	if !loaded && needsSeedCommit {
		space.writeCh <- &cmdTxCommit{
			writes:  []pvWrite{{cell: cell, value: initial}},
			durable: false,
			done:    nil,
		}
	}
	return &PV[T]{cell: cell, codec: c}, nil
}

func (s *Space) readRoot(name []byte) (Address, bool, error) {
	var addr backend.Addr
	var found bool
	err := s.engine.View(func(tx backend.Txn) error {
		a, ok, err := tx.GetRoot(name)
		if err != nil {
			return err
		}
		addr, found = a, ok
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return backendToAddr(addr), found, nil
}

func addrsToBackend(cs []codec.Addr) []backend.Addr {
	out := make([]backend.Addr, len(cs))
	for i, c := range cs {
		out[i] = addrToBackend(codecToAddr(c))
	}
	return out
}
