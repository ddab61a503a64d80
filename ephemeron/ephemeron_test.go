package ephemeron

import (
	"runtime"
	"testing"
	"time"
)

func hashInt(k int) uint64 { return uint64(k) }

func TestGetOrCreateSharesIdentity(t *testing.T) {
	tbl := New[int, int](4, hashInt)
	created := 0
	create := func() *int {
		created++
		v := 42
		return &v
	}

	v1, loaded1 := tbl.GetOrCreate(1, create)
	if loaded1 {
		t.Fatalf("first GetOrCreate should not report loaded")
	}
	v2, loaded2 := tbl.GetOrCreate(1, create)
	if !loaded2 {
		t.Fatalf("second GetOrCreate should report loaded")
	}
	if v1 != v2 {
		t.Fatalf("expected identical pointer, got %p and %p", v1, v2)
	}
	if created != 1 {
		t.Fatalf("create should only run once, ran %d times", created)
	}
	runtime.KeepAlive(v1)
	runtime.KeepAlive(v2)
}

func TestEntryPrunedAfterCollection(t *testing.T) {
	tbl := New[int, int](4, hashInt)
	create := func() *int { v := 7; return &v }

	v, _ := tbl.GetOrCreate(1, create)
	if _, ok := tbl.Get(1); !ok {
		t.Fatalf("expected entry to be live immediately after creation")
	}
	v = nil
	_ = v

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if _, ok := tbl.Get(1); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("entry was not pruned after its value became unreachable")
}

func TestDeleteForcesRemoval(t *testing.T) {
	tbl := New[string, int](4, func(s string) uint64 {
		var h uint64 = 14695981039346656037
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= 1099511628211
		}
		return h
	})
	v := 1
	tbl.GetOrCreate("a", func() *int { return &v })
	tbl.Delete("a")
	if _, ok := tbl.Get("a"); ok {
		t.Fatalf("expected entry to be gone after Delete")
	}
	runtime.KeepAlive(v)
}

func TestLenCountsShards(t *testing.T) {
	tbl := New[int, int](8, hashInt)
	vals := make([]*int, 0, 5)
	for i := 0; i < 5; i++ {
		v := i
		got, _ := tbl.GetOrCreate(i, func() *int { return &v })
		vals = append(vals, got)
	}
	if tbl.Len() != 5 {
		t.Fatalf("expected 5 entries, got %d", tbl.Len())
	}
	runtime.KeepAlive(vals)
}
