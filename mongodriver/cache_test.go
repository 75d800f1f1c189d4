package mongodriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestCacheRoundTrip(t *testing.T) {
	cache, err := newCache(16)
	require.NoError(t, err)

	op := &Op{Type: OpFetch, Collection: "users", Query: map[string]any{"age": 30}}
	co := &compiledOp{Filter: bson.M{"age": bson.M{"$eq": 30}}}

	_, ok := cache.Get(op)
	assert.False(t, ok)

	cache.Set(op, co)
	got, ok := cache.Get(op)
	require.True(t, ok)
	assert.Same(t, co, got)
}

func TestCacheKeyIgnoresPaging(t *testing.T) {
	cache, err := newCache(16)
	require.NoError(t, err)

	a := &Op{Type: OpFetch, Collection: "users", Query: map[string]any{"age": 30}, Limit: 10}
	b := &Op{Type: OpFetch, Collection: "users", Query: map[string]any{"age": 30}, Skip: 5}

	cache.Set(a, &compiledOp{Filter: bson.M{"age": bson.M{"$eq": 30}}})
	_, ok := cache.Get(b)
	assert.True(t, ok)
}

func TestCacheKeySeparatesCollections(t *testing.T) {
	cache, err := newCache(16)
	require.NoError(t, err)

	a := &Op{Type: OpFetch, Collection: "users", Query: map[string]any{"age": 30}}
	b := &Op{Type: OpFetch, Collection: "orders", Query: map[string]any{"age": 30}}

	cache.Set(a, &compiledOp{})
	_, ok := cache.Get(b)
	assert.False(t, ok)
}
