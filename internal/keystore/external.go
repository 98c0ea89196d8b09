package keystore

// LookupFunc is the shape of an opaque external callback: given an
// identity, return its key and whether it is known. Implementations must
// honor the non-blocking contract of Store.Lookup; a
// callback that talks to a remote system must run its own goroutine/cache
// boundary rather than block here.
type LookupFunc func(identity string) (key []byte, ok bool)

// External adapts an opaque external lookup callback to the Store
// interface. Identities() returns nothing: an external store has no
// notion of a diagnostics snapshot, only a query path.
type External struct {
	lookup LookupFunc
}

// NewExternal wraps lookup as a Store.
func NewExternal(lookup LookupFunc) *External {
	return &External{lookup: lookup}
}

func (e *External) Lookup(identity string) ([]byte, bool) {
	return e.lookup(identity)
}

func (e *External) Identities() []string { return nil }

// Reload is a no-op: an external backend has no local snapshot to refresh.
func (e *External) Reload() error { return nil }
