package vref

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestSpace(t *testing.T) *Space {
	t.Helper()
	s, err := Open(t.TempDir(), OptTickInterval(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVrefDerefRoundTrip(t *testing.T) {
	s := openTestSpace(t)
	ivr, err := Vref(s, Bytes, []byte("hello world"))
	require.NoError(t, err)

	got, err := ivr.Deref()
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestVrefDedupSharesAddress(t *testing.T) {
	s := openTestSpace(t)
	a, err := Vref(s, Bytes, []byte("same content"))
	require.NoError(t, err)
	b, err := Vref(s, Bytes, []byte("same content"))
	require.NoError(t, err)

	require.Equal(t, a.Address(), b.Address())
}

func TestVrefDistinctContentDistinctAddress(t *testing.T) {
	s := openTestSpace(t)
	a, err := Vref(s, Bytes, []byte("one"))
	require.NoError(t, err)
	b, err := Vref(s, Bytes, []byte("two"))
	require.NoError(t, err)

	require.NotEqual(t, a.Address(), b.Address())
}

func TestDerefAfterFlushReadsFromBackend(t *testing.T) {
	s := openTestSpace(t)
	ivr, err := Vref(s, Bytes, []byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	v, err := DerefAt(s, ivr.Address(), Bytes)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), v)
}

func TestPVCreateReadWrite(t *testing.T) {
	s := openTestSpace(t)
	pv, err := ResolvePV(s, []byte("counter"), Int64, 0)
	require.NoError(t, err)

	v, err := ReadPV(pv)
	require.NoError(t, err)
	require.EqualValues(t, 0, v)

	err = Atomically(s, true, func(tx *VTx) error {
		cur, err := ReadPVar(tx, pv)
		if err != nil {
			return err
		}
		WritePVar(tx, pv, cur+1)
		return nil
	})
	require.NoError(t, err)

	v, err = ReadPV(pv)
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
}

func TestPVPersistsAcrossResolve(t *testing.T) {
	s := openTestSpace(t)
	pv, err := ResolvePV(s, []byte("counter"), Int64, 0)
	require.NoError(t, err)
	require.NoError(t, Atomically(s, true, func(tx *VTx) error {
		WritePVar(tx, pv, 99)
		return nil
	}))

	pv2, err := ResolvePV(s, []byte("counter"), Int64, 0)
	require.NoError(t, err)
	v, err := ReadPV(pv2)
	require.NoError(t, err)
	require.EqualValues(t, 99, v)
}

func TestStoreScopesRoots(t *testing.T) {
	s := openTestSpace(t)
	a := NewStore(s, []byte("tenant-a"))
	b := NewStore(s, []byte("tenant-b"))

	pvA, err := ResolveRoot(a, []byte("counter"), Int64, 1)
	require.NoError(t, err)
	pvB, err := ResolveRoot(b, []byte("counter"), Int64, 2)
	require.NoError(t, err)

	vA, err := ReadPV(pvA)
	require.NoError(t, err)
	vB, err := ReadPV(pvB)
	require.NoError(t, err)
	require.EqualValues(t, 1, vA)
	require.EqualValues(t, 2, vB)
}

func TestConcurrentAtomicallyConvergesToExpectedTotal(t *testing.T) {
	s := openTestSpace(t)
	pv, err := ResolvePV(s, []byte("counter"), Int64, 0)
	require.NoError(t, err)

	const n = 1000
	var wg sync.WaitGroup
	var errsMu sync.Mutex
	var errs []error
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := Atomically(s, false, func(tx *VTx) error {
				cur, err := ReadPVar(tx, pv)
				if err != nil {
					return err
				}
				WritePVar(tx, pv, cur+1)
				return nil
			})
			if err != nil {
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)

	v, err := ReadPV(pv)
	require.NoError(t, err)
	require.EqualValues(t, n, v)
}

func TestGCReclaimsAfterPVOverwrite(t *testing.T) {
	s := openTestSpace(t)
	pv, err := ResolvePV(s, []byte("root"), Bytes, []byte("first"))
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	oldAddr := pv.cell.lastAddr
	require.NotEqual(t, NullAddress, oldAddr)

	require.NoError(t, Atomically(s, true, func(tx *VTx) error {
		WritePVar(tx, pv, []byte("second"))
		return nil
	}))

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Flush())
		if _, err := s.readValue(oldAddr); errors.Is(err, ErrNotFound) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("old PV value was never reclaimed after overwrite")
}

func TestGCReclaimsUnrootedVrefAfterHandleDropped(t *testing.T) {
	s := openTestSpace(t)
	ivr, err := Vref(s, Bytes, []byte("orphan"))
	require.NoError(t, err)
	addr := ivr.Address()
	require.NoError(t, s.Flush())

	ivr = nil
	for i := 0; i < 20; i++ {
		runtime.GC()
		time.Sleep(time.Millisecond)
	}

	// Nothing else touches this Space once the handle is gone, so nudge
	// the writer with unrelated puts: each one forces a fresh,
	// non-empty batch, and therefore another incremental refct0 sweep
	// that can finally reclaim addr now that it's unpinned.
	for i := 0; i < 200; i++ {
		_, err := Vref(s, Int64, int64(i))
		require.NoError(t, err)
		require.NoError(t, s.Flush())
		if _, err := s.readValue(addr); errors.Is(err, ErrNotFound) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("unrooted vref'd value was never reclaimed once its IVR was dropped")
}

func TestVrefDedupSharesCacheSlot(t *testing.T) {
	s := openTestSpace(t)
	a, err := Vref(s, Bytes, []byte("shared content"))
	require.NoError(t, err)
	b, err := Vref(s, Bytes, []byte("shared content"))
	require.NoError(t, err)

	require.Same(t, a.slot, b.slot)
}

func TestCacheSweepEvictsUntouchedSlot(t *testing.T) {
	s := openTestSpace(t)
	ivr, err := Vref(s, Bytes, []byte("cold value"))
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	deadline := time.After(2 * time.Second)
	for !ivr.slot.isEmpty() {
		select {
		case <-deadline:
			t.Fatal("cache slot was never evicted by the writer's sweep")
		case <-time.After(2 * time.Millisecond):
		}
	}

	v, err := ivr.Deref()
	require.NoError(t, err)
	require.Equal(t, []byte("cold value"), v)
}

func TestLockContentionFailsFast(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	defer s1.Close()

	_, err = Open(dir)
	require.ErrorIs(t, err, ErrLockContention)
}
