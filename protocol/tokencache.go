package protocol

import "github.com/ventosilenzioso/cutenet/internal/crypto"

// tokenCache is the bounded cache of consumed connect-token signatures
// spec.md §4.3/§9 calls for ("a bounded LRU of connect-token signatures
// that have already been consumed"). Implemented as insertion-order
// eviction rather than true access-order LRU: a token is only ever looked
// up, never re-inserted, so the two policies coincide here and the
// simpler one avoids an extra bookkeeping structure.
type tokenCache struct {
	capacity int
	order    []crypto.Signature
	present  map[crypto.Signature]struct{}
}

func newTokenCache(capacity int) *tokenCache {
	return &tokenCache{
		capacity: capacity,
		present:  make(map[crypto.Signature]struct{}, capacity),
	}
}

func (c *tokenCache) contains(sig crypto.Signature) bool {
	_, ok := c.present[sig]
	return ok
}

func (c *tokenCache) insert(sig crypto.Signature) {
	if c.contains(sig) {
		return
	}
	c.order = append(c.order, sig)
	c.present[sig] = struct{}{}
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.present, oldest)
	}
}
