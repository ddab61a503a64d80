package vref

// Store scopes a Space under a name prefix: named roots are
// directory-like, scoped under a store's prefix, so several independent
// Stores can share one underlying Space and never see each other's
// roots.
type Store struct {
	space  *Space
	prefix []byte
}

// NewStore returns a Store rooted at prefix within space. An empty prefix
// is the default, unscoped store.
func NewStore(space *Space, prefix []byte) *Store {
	p := append([]byte(nil), prefix...)
	return &Store{space: space, prefix: p}
}

// Space returns the underlying Space a Store is scoped within.
func (s *Store) Space() *Space { return s.space }

func (s *Store) scopedName(name []byte) []byte {
	if len(s.prefix) == 0 {
		return name
	}
	out := make([]byte, 0, len(s.prefix)+1+len(name))
	out = append(out, s.prefix...)
	out = append(out, '/')
	out = append(out, name...)
	return out
}

// ResolveRoot resolves (creating if absent) a named root scoped to this
// store as a PV[T].
func ResolveRoot[T any](s *Store, name []byte, c *Codec[T], initial T) (*PV[T], error) {
	return ResolvePV(s.space, s.scopedName(name), c, initial)
}
