package vref

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gholt/vref/backend"
	"github.com/gholt/vref/ephemeron"
	"github.com/gofrs/flock"
	bolt "go.etcd.io/bbolt"
)

type ivrTable = ephemeron.Table[ivrKey, CacheSlot]
type pinTable = ephemeron.Table[Address, CacheSlot]
type pvTable = ephemeron.Table[pvKey, pvCell]

func newIVRTable(shards int) *ivrTable { return ephemeron.New[ivrKey, CacheSlot](shards, hashIVRKey) }
func newPinTable(shards int) *pinTable {
	return ephemeron.New[Address, CacheSlot](shards, func(a Address) uint64 { return uint64(a) })
}
func newPVTable(shards int) *pvTable { return ephemeron.New[pvKey, pvCell](shards, hashPVKey) }

// Space is one content-addressed value domain: a lock-guarded directory, a
// backend.Engine (bbolt) holding its four logical tables, the in-process
// ephemeron indexes for IVRs and PVs, and the single background
// writer/GC goroutine that is the only thing ever allowed to mutate the
// backend.
type Space struct {
	path   string
	engine backend.Engine
	lock   *flock.Flock
	log    *logger
	cfg    *Config

	ivrs *ivrTable
	pvs  *pvTable

	// pinIndex tracks, per address (ignoring declared type), whether any
	// in-process IVR is currently alive for it: a transient in-memory
	// pin that keeps a value reachable even while its stored refcount is
	// zero. It shares the very same *CacheSlot pointer the type-keyed
	// ivrs table holds, so the two tables' weak liveness always agree.
	pinIndex *pinTable

	addrMu    sync.Mutex
	addrNext  Address
	addrLimit Address

	// pendingMu/pending index content-addressed puts that have been
	// allocated an address and enqueued to the writer but not yet
	// committed to the backend's hash buckets. Vref's own dedup lookup
	// (findOrAllocate) must consult this in addition to the backend,
	// otherwise two Vref calls for equal values racing ahead of the
	// writer's batch tick would each allocate a distinct address.
	pendingMu sync.Mutex
	pending   map[[16]byte][]*cmdPutValue

	writeCh chan any
	doneCh  chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// Open acquires the exclusive file lock on dir, opens (creating if
// necessary) the bbolt-backed tables beneath it, rehydrates the address
// counter and starts the writer/GC goroutine.
func Open(dir string, opts ...Opt) (*Space, error) {
	cfg := resolveConfig(opts...)

	lockPath := filepath.Join(dir, "LOCK")
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("vref: acquiring lock: %w", err)
	}
	if !ok {
		return nil, ErrLockContention
	}

	dbPath := filepath.Join(dir, "vref.db")
	engine, err := backend.OpenBboltEngine(dbPath, &bolt.Options{})
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("vref: opening engine: %w", err)
	}

	s := &Space{
		path:   dir,
		engine: engine,
		lock:   fl,
		log:    newLogger(cfg.Logger),
		cfg:    cfg,
		ivrs:    newIVRTable(cfg.EphemeronShards),
		pvs:     newPVTable(cfg.EphemeronShards),
		pending: make(map[[16]byte][]*cmdPutValue),
		writeCh: make(chan any, 1024),
		doneCh:  make(chan struct{}),
	}
	s.pinIndex = newPinTable(cfg.EphemeronShards)

	s.wg.Add(1)
	go s.writerLoop()

	return s, nil
}

// Close stops the writer after flushing any pending batch and releases
// the file lock.
func (s *Space) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(s.doneCh)
	s.wg.Wait()
	if err := s.engine.Close(); err != nil {
		s.lock.Unlock()
		return err
	}
	return s.lock.Unlock()
}

// Flush blocks until every command enqueued before this call has been
// committed to the backend, the blocking "drain the queue" operation of
// SPEC_FULL.md §4. It does not call Engine.Sync itself; the bundled bbolt
// engine fsyncs on every commit.
func (s *Space) Flush() error {
	done := make(chan error, 1)
	s.writeCh <- &cmdBarrier{done: done}
	return <-done
}

// trackPin registers slot under addr in the pin index the first time an
// IVR for that address is created, so the GC sweep can ask "is anything
// in this process still holding a handle to addr" independent of which
// declared type created it.
func (s *Space) trackPin(addr Address, slot *CacheSlot) {
	s.pinIndex.GetOrCreate(addr, func() *CacheSlot { return slot })
}

// isPinned reports whether any in-process IVR is currently alive for
// addr.
func (s *Space) isPinned(addr Address) bool {
	_, ok := s.pinIndex.Get(addr)
	return ok
}

// readValue fetches and decodes the stored record for addr.
func (s *Space) readValue(addr Address) (backend.ValueRecord, error) {
	var rec backend.ValueRecord
	var found bool
	err := s.engine.View(func(tx backend.Txn) error {
		r, ok, err := tx.GetValue(addrToBackend(addr))
		if err != nil {
			return err
		}
		found = ok
		rec = r
		return nil
	})
	if err != nil {
		return backend.ValueRecord{}, err
	}
	if !found {
		return backend.ValueRecord{}, ErrNotFound
	}
	return rec, nil
}

// findOrAllocate implements the core of the allocation algorithm: look
// for an existing address with byte-identical content, otherwise reserve
// a new one and enqueue the write. Returns fresh=true when a new address
// was allocated (the value is not yet guaranteed resident in the
// backend).
func (s *Space) findOrAllocate(hash [16]byte, payload []byte, children []backend.Addr) (Address, bool, error) {
	var existing backend.Addr
	var hit bool
	err := s.engine.View(func(tx backend.Txn) error {
		bucket, err := tx.HashBucket(hash)
		if err != nil {
			return err
		}
		for _, cand := range bucket {
			rec, ok, err := tx.GetValue(cand)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if recordsByteEqual(rec, payload, children) {
				existing = cand
				hit = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	if hit {
		addr := backendToAddr(existing)
		return addr, false, nil
	}

	s.pendingMu.Lock()
	for _, p := range s.pending[hash] {
		if pendingRecordByteEqual(p, payload, children) {
			addr := p.addr
			s.pendingMu.Unlock()
			return addr, false, nil
		}
	}

	addr, err := s.allocateAddress()
	if err != nil {
		s.pendingMu.Unlock()
		return 0, false, err
	}
	cmd := &cmdPutValue{addr: addr, hash: hash, payload: payload, children: children}
	s.pending[hash] = append(s.pending[hash], cmd)
	s.pendingMu.Unlock()

	s.writeCh <- cmd
	return addr, true, nil
}

// clearPending removes committed puts from the in-flight dedup index
// now that the backend's own hash buckets answer for them.
func (s *Space) clearPending(puts []*cmdPutValue) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for _, p := range puts {
		lst := s.pending[p.hash]
		for i, q := range lst {
			if q == p {
				lst = append(lst[:i], lst[i+1:]...)
				break
			}
		}
		if len(lst) == 0 {
			delete(s.pending, p.hash)
		} else {
			s.pending[p.hash] = lst
		}
	}
}

func pendingRecordByteEqual(p *cmdPutValue, payload []byte, children []backend.Addr) bool {
	if len(p.payload) != len(payload) || len(p.children) != len(children) {
		return false
	}
	for i := range payload {
		if p.payload[i] != payload[i] {
			return false
		}
	}
	for i := range children {
		if p.children[i] != children[i] {
			return false
		}
	}
	return true
}

// allocateAddress hands out the next address from the in-memory chunk
// reserved from the writer, requesting a new chunk (a single
// backend.Txn.NextAddresses round trip performed by the writer, the only
// goroutine allowed to advance the persisted counter) when exhausted.
func (s *Space) allocateAddress() (Address, error) {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	if s.addrNext >= s.addrLimit {
		result := make(chan reserveResult, 1)
		s.writeCh <- &cmdReserveAddrs{n: s.cfg.AddressChunkSize, result: result}
		r := <-result
		if r.err != nil {
			return 0, r.err
		}
		s.addrNext = r.first
		s.addrLimit = r.first + Address(s.cfg.AddressChunkSize)
	}
	a := s.addrNext
	s.addrNext++
	return a, nil
}
