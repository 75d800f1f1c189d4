package mongodriver

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"
)

// Cache memoizes compiled query forms. Compilation is pure, so a cached
// filter/pipeline pair stays valid for the life of the process; generated
// accumulator names inside a cached entry are simply reused.
type Cache struct {
	cache *lru.TwoQueueCache[uint64, *compiledOp]
}

// newCache returns a compile cache bounded to size entries.
func newCache(size int) (*Cache, error) {
	c, err := lru.New2Q[uint64, *compiledOp](size)
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c}, nil
}

// key hashes an op's identity-relevant parts. A zero return means the op is
// not hashable and must be compiled fresh.
func (c *Cache) key(op *Op) uint64 {
	h, err := hashstructure.Hash(struct {
		Type       string
		Collection string
		Query      map[string]any
	}{op.Type, op.Collection, op.Query}, hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}
	return h
}

// Get returns the cached compile result for an op.
func (c *Cache) Get(op *Op) (*compiledOp, bool) {
	k := c.key(op)
	if k == 0 {
		return nil, false
	}
	return c.cache.Get(k)
}

// Set stores a compile result for an op.
func (c *Cache) Set(op *Op, co *compiledOp) {
	if k := c.key(op); k != 0 {
		c.cache.Add(k, co)
	}
}
