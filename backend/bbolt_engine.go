package backend

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketValues  = []byte("values")
	bucketRoots   = []byte("vroots")
	bucketHashes  = []byte("caddrs")
	bucketRefcts  = []byte("refcts")
	bucketRefct0  = []byte("refct0")
	bucketMeta    = []byte("meta")
	metaKeyNextID = []byte("next_address")
)

// BboltEngine is the Engine implementation backing a Space. It wraps a
// single *bolt.DB: one OS-level open, one writer at a time (bbolt
// enforces this itself with an internal rwlock around Update), many
// concurrent read-only snapshots.
type BboltEngine struct {
	db *bolt.DB
}

// OpenBboltEngine opens (creating if necessary) a bbolt database at path
// and ensures the four logical tables plus the refct0 queue and meta
// bucket exist.
func OpenBboltEngine(path string, opts *bolt.Options) (*BboltEngine, error) {
	db, err := bolt.Open(path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("backend: open bbolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketValues, bucketRoots, bucketHashes, bucketRefcts, bucketRefct0, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: init buckets: %w", err)
	}
	return &BboltEngine{db: db}, nil
}

func (e *BboltEngine) View(fn func(Txn) error) error {
	return e.db.View(func(tx *bolt.Tx) error {
		return fn(&bboltTxn{tx: tx})
	})
}

func (e *BboltEngine) Update(fn func(Txn) error) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		return fn(&bboltTxn{tx: tx})
	})
}

func (e *BboltEngine) Sync() error {
	return e.db.Sync()
}

func (e *BboltEngine) Close() error {
	return e.db.Close()
}

type bboltTxn struct {
	tx *bolt.Tx
}

func (t *bboltTxn) GetValue(addr Addr) (ValueRecord, bool, error) {
	b := t.tx.Bucket(bucketValues)
	key := addr.Bytes()
	raw := b.Get(key[:])
	if raw == nil {
		return ValueRecord{}, false, nil
	}
	rec, err := DecodeValueRecord(raw)
	if err != nil {
		return ValueRecord{}, false, err
	}
	return rec, true, nil
}

func (t *bboltTxn) PutValue(addr Addr, rec ValueRecord) error {
	b := t.tx.Bucket(bucketValues)
	key := addr.Bytes()
	if err := b.Put(key[:], EncodeValueRecord(rec)); err != nil {
		return wrapFull(err)
	}
	return nil
}

func (t *bboltTxn) DeleteValue(addr Addr) error {
	b := t.tx.Bucket(bucketValues)
	key := addr.Bytes()
	return b.Delete(key[:])
}

func (t *bboltTxn) GetRoot(name []byte) (Addr, bool, error) {
	b := t.tx.Bucket(bucketRoots)
	raw := b.Get(name)
	if raw == nil {
		return 0, false, nil
	}
	return addrFromBytes(raw), true, nil
}

func (t *bboltTxn) PutRoot(name []byte, addr Addr) error {
	b := t.tx.Bucket(bucketRoots)
	a := addr.Bytes()
	return wrapFull(b.Put(name, a[:]))
}

func (t *bboltTxn) DeleteRoot(name []byte) error {
	return t.tx.Bucket(bucketRoots).Delete(name)
}

func (t *bboltTxn) HashBucket(hash [16]byte) ([]Addr, error) {
	b := t.tx.Bucket(bucketHashes)
	raw := b.Get(hash[:])
	if raw == nil {
		return nil, nil
	}
	return decodeAddrList(raw)
}

func (t *bboltTxn) SetHashBucket(hash [16]byte, addrs []Addr) error {
	b := t.tx.Bucket(bucketHashes)
	if len(addrs) == 0 {
		return b.Delete(hash[:])
	}
	return wrapFull(b.Put(hash[:], encodeAddrList(addrs)))
}

func (t *bboltTxn) GetRefcount(addr Addr) (uint64, bool, error) {
	b := t.tx.Bucket(bucketRefcts)
	key := addr.Bytes()
	raw := b.Get(key[:])
	if raw == nil {
		return 0, false, nil
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

func (t *bboltTxn) SetRefcount(addr Addr, count uint64) error {
	b := t.tx.Bucket(bucketRefcts)
	key := addr.Bytes()
	if count == 0 {
		return b.Delete(key[:])
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], count)
	return wrapFull(b.Put(key[:], v[:]))
}

func (t *bboltTxn) EnqueueRefct0(addr Addr) error {
	b := t.tx.Bucket(bucketRefct0)
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	a := addr.Bytes()
	return wrapFull(b.Put(key[:], a[:]))
}

func (t *bboltTxn) DequeueRefct0(max int) ([]Addr, error) {
	b := t.tx.Bucket(bucketRefct0)
	c := b.Cursor()
	var out []Addr
	var keys [][]byte
	for k, v := c.First(); k != nil && len(out) < max; k, v = c.Next() {
		out = append(out, addrFromBytes(v))
		keyCopy := make([]byte, len(k))
		copy(keyCopy, k)
		keys = append(keys, keyCopy)
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *bboltTxn) NextAddresses(n int) (Addr, error) {
	if n <= 0 {
		return 0, fmt.Errorf("backend: NextAddresses: n must be positive")
	}
	b := t.tx.Bucket(bucketMeta)
	raw := b.Get(metaKeyNextID)
	var next uint64 = 1 // address 0 is the reserved null sentinel (I1)
	if raw != nil {
		next = binary.BigEndian.Uint64(raw)
	}
	first := next
	next += uint64(n)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], next)
	if err := b.Put(metaKeyNextID, v[:]); err != nil {
		return 0, wrapFull(err)
	}
	return Addr(first), nil
}

func encodeAddrList(addrs []Addr) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+8*len(addrs))
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(addrs)))
	buf = append(buf, tmp[:n]...)
	for _, a := range addrs {
		b := a.Bytes()
		buf = append(buf, b[:]...)
	}
	return buf
}

func decodeAddrList(b []byte) ([]Addr, error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, fmt.Errorf("backend: truncated address list")
	}
	b = b[n:]
	if uint64(len(b)) != count*8 {
		return nil, fmt.Errorf("backend: address list length mismatch")
	}
	out := make([]Addr, count)
	for i := range out {
		out[i] = addrFromBytes(b[i*8 : i*8+8])
	}
	return out, nil
}

func wrapFull(err error) error {
	if err == nil {
		return nil
	}
	if err == bolt.ErrDatabaseNotOpen {
		return ErrFull
	}
	return err
}
