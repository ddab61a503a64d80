package vref

import (
	"time"

	"github.com/gholt/vref/backend"
)

// cmdPutValue is a content-addressed value whose address has already been
// reserved; the writer only has to persist it and index it by hash.
type cmdPutValue struct {
	addr     Address
	hash     [16]byte
	payload  []byte
	children []backend.Addr
}

// cmdTxCommit is one VTx's coalesced write log: one (PV, final value) pair
// per pvCell touched.
type cmdTxCommit struct {
	writes  []pvWrite
	durable bool
	done    chan error // nil unless durable
}

// cmdReserveAddrs asks the writer to advance the persisted address
// counter by n and report the first address of the reserved range.
type cmdReserveAddrs struct {
	n      int
	result chan reserveResult
}

type reserveResult struct {
	first Address
	err   error
}

// cmdBarrier is satisfied once every command enqueued before it has been
// committed, backing Space.Flush.
type cmdBarrier struct {
	done chan error
}

// writerLoop is the single goroutine allowed to mutate the backend (spec
// §4.5): it accumulates PutValue/TxCommit/address-reservation work into a
// batch, closes the batch on a tick or when a durability-requiring item
// has waited its grace period, performs one incremental GC sweep of the
// refct0 queue per batch, and sweeps the in-process IVR cache for eviction
// once per tick.
func (s *Space) writerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var batch []any
	var durabilityDeadline <-chan time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.commitBatch(batch)
		batch = batch[:0]
		durabilityDeadline = nil
	}

	for {
		select {
		case <-s.doneCh:
			flush()
			return
		case cmd := <-s.writeCh:
			switch c := cmd.(type) {
			case *cmdReserveAddrs:
				s.handleReserve(c)
			case *cmdBarrier:
				flush()
				c.done <- nil
			default:
				batch = append(batch, cmd)
				if tc, ok := cmd.(*cmdTxCommit); ok && tc.durable && durabilityDeadline == nil {
					durabilityDeadline = time.After(s.cfg.DurabilityGrace)
				}
			}
		case <-ticker.C:
			flush()
			s.sweepCache()
		case <-durabilityDeadline:
			flush()
		}
	}
}

func (s *Space) handleReserve(c *cmdReserveAddrs) {
	var first backend.Addr
	err := s.engine.Update(func(tx backend.Txn) error {
		f, err := tx.NextAddresses(c.n)
		if err != nil {
			return err
		}
		first = f
		return nil
	})
	if err != nil {
		c.result <- reserveResult{err: err}
		return
	}
	c.result <- reserveResult{first: backendToAddr(first)}
}

// commitBatch runs the whole batch as one backend transaction: writes of
// fresh content-addressed values, PV write-log application (each of
// which is itself a Put against the committing PV's current value,
// invoked lazily here), refcount accounting for every reference gained
// or lost this batch, and one bounded incremental GC sweep of refct0.
func (s *Space) commitBatch(batch []any) {
	var puts []*cmdPutValue
	var txCommits []*cmdTxCommit
	durable := false
	for _, c := range batch {
		switch v := c.(type) {
		case *cmdPutValue:
			puts = append(puts, v)
		case *cmdTxCommit:
			txCommits = append(txCommits, v)
			if v.durable {
				durable = true
			}
		}
	}

	rootChanges := 0
	reclaimed := 0

	err := s.engine.Update(func(tx backend.Txn) error {
		refDelta := map[backend.Addr]int64{}

		for _, p := range puts {
			rec := backend.ValueRecord{Payload: p.payload, Children: p.children}
			if err := tx.PutValue(addrToBackend(p.addr), rec); err != nil {
				return err
			}
			bucket, err := tx.HashBucket(p.hash)
			if err != nil {
				return err
			}
			bucket = append(bucket, addrToBackend(p.addr))
			if err := tx.SetHashBucket(p.hash, bucket); err != nil {
				return err
			}
			for _, child := range p.children {
				refDelta[child]++
			}
			// A freshly allocated address starts this batch with no
			// incoming references of its own (only its children got one
			// above). Queue it for the refct0 sweep now rather than
			// waiting for some other batch to push its refcount down to
			// zero: if nothing ever roots or references it, the pin
			// index (Space.isPinned) is what keeps sweepRefct0 from
			// reclaiming it out from under a live IVR, not the refcount.
			if err := tx.EnqueueRefct0(addrToBackend(p.addr)); err != nil {
				return err
			}
		}

		for _, txc := range txCommits {
			for _, w := range txc.writes {
				cell := w.cell
				pp := newPut()
				payload, children := cell.putFn(w.value, pp)
				backendAddr, fresh, err := s.findOrAllocateLocked(tx, payload, children)
				if err != nil {
					return err
				}
				addr := backendToAddr(backendAddr)
				if fresh {
					for _, child := range children {
						refDelta[child]++
					}
				}
				oldAddr := cell.lastAddr
				if oldAddr != NullAddress && oldAddr != addr {
					refDelta[addrToBackend(oldAddr)]--
				}
				if oldAddr != addr {
					refDelta[backendAddr]++
					if err := tx.PutRoot(cell.name, backendAddr); err != nil {
						return err
					}
					rootChanges++
					cell.lastAddr = addr
				}
			}
		}

		for addr, delta := range refDelta {
			if delta == 0 {
				continue
			}
			cur, _, err := tx.GetRefcount(addr)
			if err != nil {
				return err
			}
			n := int64(cur) + delta
			if n < 0 {
				s.log.error("commitBatch", ErrInternalInvariant)
				n = 0
			}
			if err := tx.SetRefcount(addr, uint64(n)); err != nil {
				return err
			}
			if n == 0 {
				if err := tx.EnqueueRefct0(addr); err != nil {
					return err
				}
			}
		}

		n, err := s.sweepRefct0(tx)
		if err != nil {
			return err
		}
		reclaimed = n
		return nil
	})

	if err == nil && len(puts) > 0 {
		s.clearPending(puts)
	}

	s.log.writerBatch(len(puts), len(txCommits), rootChanges, reclaimed)

	if err != nil {
		s.log.error("commitBatch", err)
	}
	// Sync before signalling any durable waiter: a waiter blocked on
	// txc.done is asking for the commit to be fsynced, not merely applied
	// to the backend's in-memory transaction, so the promise only holds
	// if Sync happens first. bbolt's own Update fsyncs on commit already,
	// making this redundant against the bundled engine, but backend.Engine
	// does not guarantee that of every implementation.
	if durable {
		if syncErr := s.engine.Sync(); syncErr != nil && err == nil {
			err = syncErr
		}
	}
	for _, txc := range txCommits {
		if txc.done != nil {
			txc.done <- err
		}
	}
}

// findOrAllocateLocked mirrors Space.findOrAllocate but runs inside an
// already-open write transaction, for values discovered while committing
// a PV write (the PV's new value has not necessarily been vreffed ahead
// of time).
func (s *Space) findOrAllocateLocked(tx backend.Txn, payload []byte, children []backend.Addr) (backend.Addr, bool, error) {
	hash := contentHash(payload, children)
	bucket, err := tx.HashBucket(hash)
	if err != nil {
		return 0, false, err
	}
	for _, cand := range bucket {
		rec, ok, err := tx.GetValue(cand)
		if err != nil {
			return 0, false, err
		}
		if ok && recordsByteEqual(rec, payload, children) {
			return cand, false, nil
		}
	}
	first, err := tx.NextAddresses(1)
	if err != nil {
		return 0, false, err
	}
	rec := backend.ValueRecord{Payload: payload, Children: children}
	if err := tx.PutValue(first, rec); err != nil {
		return 0, false, err
	}
	bucket = append(bucket, first)
	if err := tx.SetHashBucket(hash, bucket); err != nil {
		return 0, false, err
	}
	return first, true, nil
}

// sweepRefct0 pops up to GCBatchSize addresses off the refcount-zero
// queue and reclaims each one unless it is still pinned in-process: an
// address whose stored refcount is zero but which some live IVR still
// references is re-enqueued rather than reclaimed.
func (s *Space) sweepRefct0(tx backend.Txn) (int, error) {
	addrs, err := tx.DequeueRefct0(s.cfg.GCBatchSize)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, a := range addrs {
		addr := backendToAddr(a)
		if s.isPinned(addr) {
			s.log.gcRequeue(addr)
			if err := tx.EnqueueRefct0(a); err != nil {
				return reclaimed, err
			}
			continue
		}
		rec, ok, err := tx.GetValue(a)
		if err != nil {
			return reclaimed, err
		}
		if !ok {
			continue
		}
		cur, _, err := tx.GetRefcount(a)
		if err != nil {
			return reclaimed, err
		}
		if cur != 0 {
			// a reference was added after this address was queued;
			// nothing to reclaim.
			continue
		}
		hash := contentHash(rec.Payload, rec.Children)
		bucket, err := tx.HashBucket(hash)
		if err != nil {
			return reclaimed, err
		}
		bucket = removeAddr(bucket, a)
		if err := tx.SetHashBucket(hash, bucket); err != nil {
			return reclaimed, err
		}
		if err := tx.DeleteValue(a); err != nil {
			return reclaimed, err
		}
		reclaimed++
		for _, child := range rec.Children {
			ccur, _, err := tx.GetRefcount(child)
			if err != nil {
				return reclaimed, err
			}
			if ccur == 0 {
				continue
			}
			n := ccur - 1
			if err := tx.SetRefcount(child, n); err != nil {
				return reclaimed, err
			}
			if n == 0 {
				if err := tx.EnqueueRefct0(child); err != nil {
					return reclaimed, err
				}
			}
		}
	}
	return reclaimed, nil
}

func removeAddr(bucket []backend.Addr, target backend.Addr) []backend.Addr {
	out := bucket[:0]
	for _, a := range bucket {
		if a != target {
			out = append(out, a)
		}
	}
	return out
}

// sweepCache is component C5's eviction heuristic, run once per writer
// tick against every live slot in s.ivrs: a locked slot (IsLocked) is left
// untouched, an unlocked slot has its touch counter bumped, and any slot
// whose touch now exceeds its policy's threshold is cleared back to
// Empty. Config.CacheWeightLimit is a soft hint on top of the per-policy
// threshold: once the cumulative weight of slots visited this sweep
// crosses the limit, the sweep switches into pressure mode and clears
// every further unlocked slot on its very next touch, regardless of
// policy, until the sweep ends.
func (s *Space) sweepCache() {
	var totalWeight uint64
	var visited, evicted int
	pressure := false
	s.ivrs.Range(func(_ ivrKey, slot *CacheSlot) bool {
		visited++
		if slot.IsLocked() {
			return true
		}
		totalWeight += uint64(1) << (uint(slot.Weight()) + 8)
		if s.cfg.CacheWeightLimit != 0 && totalWeight > s.cfg.CacheWeightLimit {
			pressure = true
		}
		threshold := touchThreshold(slot.Policy())
		if pressure {
			threshold = 0
		}
		if touch := slot.BumpTouch(); touch > threshold {
			slot.Clear()
			evicted++
		}
		return true
	})
	if visited > 0 {
		s.log.cacheSweep(visited, evicted, totalWeight)
	}
}
