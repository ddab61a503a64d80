package vref

// Bytes is the Codec for raw, childless byte slices, the simplest
// possible T, useful both as a building block for composite codecs and
// directly from cmd/vrefctl.
var Bytes = NewCodec(
	func(v []byte, p *Put) { p.Bytes(v) },
	func(g *Get) ([]byte, error) {
		b, err := g.Bytes(g.inner.Remaining())
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	},
)

// Int64 is the Codec for a bare int64, stored as a varint payload with no
// children, the natural codec for a named counter root.
var Int64 = NewCodec(
	func(v int64, p *Put) { p.Varint(v) },
	func(g *Get) (int64, error) { return g.Varint() },
)
