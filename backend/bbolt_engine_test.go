package backend

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestEngine(t *testing.T) *BboltEngine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vref.db")
	e, err := OpenBboltEngine(path, &bolt.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestValueRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	rec := ValueRecord{Payload: []byte("hello"), Children: []Addr{1, 2, 3}}

	require.NoError(t, e.Update(func(tx Txn) error {
		return tx.PutValue(42, rec)
	}))

	var got ValueRecord
	var ok bool
	require.NoError(t, e.View(func(tx Txn) error {
		var err error
		got, ok, err = tx.GetValue(42)
		return err
	}))
	require.True(t, ok)
	require.Equal(t, rec.Payload, got.Payload)
	require.Equal(t, rec.Children, got.Children)
}

func TestNextAddressesMonotonicAndDisjoint(t *testing.T) {
	e := openTestEngine(t)
	var first1, first2 Addr
	require.NoError(t, e.Update(func(tx Txn) error {
		a, err := tx.NextAddresses(5)
		first1 = a
		return err
	}))
	require.NoError(t, e.Update(func(tx Txn) error {
		a, err := tx.NextAddresses(3)
		first2 = a
		return err
	}))
	require.EqualValues(t, 1, first1)
	require.EqualValues(t, 6, first2)
}

func TestHashBucketAccumulates(t *testing.T) {
	e := openTestEngine(t)
	h := [16]byte{1, 2, 3}
	require.NoError(t, e.Update(func(tx Txn) error {
		return tx.SetHashBucket(h, []Addr{1, 2})
	}))
	require.NoError(t, e.Update(func(tx Txn) error {
		b, err := tx.HashBucket(h)
		if err != nil {
			return err
		}
		return tx.SetHashBucket(h, append(b, 3))
	}))
	var bucket []Addr
	require.NoError(t, e.View(func(tx Txn) error {
		var err error
		bucket, err = tx.HashBucket(h)
		return err
	}))
	require.Equal(t, []Addr{1, 2, 3}, bucket)
}

func TestRefcountZeroDeletesEntry(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Update(func(tx Txn) error {
		return tx.SetRefcount(7, 2)
	}))
	require.NoError(t, e.Update(func(tx Txn) error {
		return tx.SetRefcount(7, 0)
	}))
	var ok bool
	require.NoError(t, e.View(func(tx Txn) error {
		_, found, err := tx.GetRefcount(7)
		ok = found
		return err
	}))
	require.False(t, ok)
}

func TestRefct0QueueFIFO(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Update(func(tx Txn) error {
		for _, a := range []Addr{10, 20, 30} {
			if err := tx.EnqueueRefct0(a); err != nil {
				return err
			}
		}
		return nil
	}))
	var popped []Addr
	require.NoError(t, e.Update(func(tx Txn) error {
		var err error
		popped, err = tx.DequeueRefct0(2)
		return err
	}))
	require.Equal(t, []Addr{10, 20}, popped)

	require.NoError(t, e.Update(func(tx Txn) error {
		rest, err := tx.DequeueRefct0(10)
		popped = append(popped, rest...)
		return err
	}))
	require.Equal(t, []Addr{10, 20, 30}, popped)
}

func TestValueRecordEncodeDecode(t *testing.T) {
	rec := ValueRecord{Payload: []byte("xyz"), Children: []Addr{100, 200}}
	b := EncodeValueRecord(rec)
	got, err := DecodeValueRecord(b)
	require.NoError(t, err)
	require.Equal(t, rec.Payload, got.Payload)
	require.Equal(t, rec.Children, got.Children)
}
