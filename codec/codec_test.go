package codec

import (
	"math/rand"
	"testing"
)

type pair struct {
	n int64
	b []byte
}

func putPair(p *Put, v pair) {
	p.Varint(v.n)
	p.Uvarint(uint64(len(v.b)))
	p.Bytes(v.b)
}

func getPair(g *Get) (pair, error) {
	n, err := g.Varint()
	if err != nil {
		return pair{}, err
	}
	l, err := g.Uvarint()
	if err != nil {
		return pair{}, err
	}
	b, err := g.Bytes(int(l))
	if err != nil {
		return pair{}, err
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return pair{n: n, b: cp}, nil
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		v := pair{n: r.Int63() - r.Int63(), b: make([]byte, r.Intn(64))}
		r.Read(v.b)

		p := NewPut()
		putPair(p, v)
		g := NewGet(p.Payload(), p.Children())
		got, err := getPair(g)
		if err != nil {
			t.Fatalf("round trip %d: %v", i, err)
		}
		if got.n != v.n || string(got.b) != string(v.b) {
			t.Fatalf("round trip %d: got %+v, want %+v", i, got, v)
		}
		if g.Remaining() != 0 {
			t.Fatalf("round trip %d: %d residual bytes", i, g.Remaining())
		}
	}
}

func TestIsolateExactConsumption(t *testing.T) {
	p := NewPut()
	p.Bytes([]byte("0123456789abcdefg")) // 17 bytes
	p.Child(Addr(10))
	p.Child(Addr(20))

	g := NewGet(p.Payload(), p.Children())
	_, err := Isolate(g, 17, 2, func(inner *Get) (struct{}, error) {
		if _, err := inner.Bytes(17); err != nil {
			return struct{}{}, err
		}
		if _, err := inner.NextChild(); err != nil {
			return struct{}{}, err
		}
		if _, err := inner.NextChild(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("isolate(17,2) should succeed: %v", err)
	}
	if g.Remaining() != 0 || g.RemainingChildren() != 0 {
		t.Fatalf("isolate should have consumed the whole buffer")
	}
}

func TestIsolateRejectsWrongSize(t *testing.T) {
	p := NewPut()
	p.Bytes([]byte("0123456789abcdefg")) // 17 bytes
	p.Child(Addr(10))
	p.Child(Addr(20))

	mk := func() *Get { return NewGet(p.Payload(), p.Children()) }

	// The value's parser always reads all 17 payload bytes; isolate(16,2)
	// only grants a window of 16, so Bytes(17) runs past it.
	if _, err := Isolate(mk(), 16, 2, func(inner *Get) (struct{}, error) {
		if _, err := inner.Bytes(17); err != nil {
			return struct{}{}, err
		}
		if _, err := inner.NextChild(); err != nil {
			return struct{}{}, err
		}
		if _, err := inner.NextChild(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}); err == nil {
		t.Fatalf("isolate(16,2) should fail: parser needs 17 bytes but only 16 are in window")
	}

	// The value's parser always consumes both children; isolate(17,1)
	// only grants a window of 1, so the second NextChild fails.
	if _, err := Isolate(mk(), 17, 1, func(inner *Get) (struct{}, error) {
		if _, err := inner.Bytes(17); err != nil {
			return struct{}{}, err
		}
		if _, err := inner.NextChild(); err != nil {
			return struct{}{}, err
		}
		if _, err := inner.NextChild(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}); err == nil {
		t.Fatalf("isolate(17,1) should fail: parser needs 2 children but only 1 is in window")
	}
}

func TestAlternative(t *testing.T) {
	left := func(g *Get) (string, error) {
		b, err := g.Bytes(3)
		if err != nil {
			return "", err
		}
		if string(b) != "foo" {
			return "", newParseErr("left", errNotFoo)
		}
		return string(b), nil
	}
	right := func(g *Get) (string, error) {
		b, err := g.Bytes(3)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	p := NewPut()
	p.Bytes([]byte("bar"))
	g := NewGet(p.Payload(), p.Children())
	got, err := Alternative(g, left, right)
	if err != nil {
		t.Fatalf("alternative: %v", err)
	}
	if got != "bar" {
		t.Fatalf("alternative: got %q, want %q", got, "bar")
	}
}

var errNotFoo = shortCustomErr("not foo")

type shortCustomErr string

func (e shortCustomErr) Error() string { return string(e) }
