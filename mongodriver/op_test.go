package mongodriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestCompileQueryFilter(t *testing.T) {
	co := compileQuery(map[string]any{
		"id":   5,
		"tags": []any{"a", "b"},
	}, "id")

	require.False(t, co.NoMatch)
	assert.Empty(t, co.Pipeline)
	assert.Equal(t, bson.M{
		"_id":  bson.M{"$eq": 5},
		"tags": bson.M{"$in": bson.A{"a", "b"}},
	}, co.Filter)
}

func TestCompileQueryNoMatch(t *testing.T) {
	co := compileQuery(map[string]any{"tags": []any{}}, "id")
	assert.True(t, co.NoMatch)
	assert.Nil(t, co.Filter)
}

func TestCompileQueryEmitsStages(t *testing.T) {
	co := compileQuery(map[string]any{
		"$expr": map[string]any{"$sum": "price"},
	}, "id")

	require.False(t, co.NoMatch)
	require.Len(t, co.Pipeline, 1)
	group, ok := co.Pipeline[0]["$group"].(bson.M)
	require.True(t, ok)
	assert.Contains(t, group, "_id")
}

func TestMatchPipelineAppendsFilter(t *testing.T) {
	co := &compiledOp{
		Filter:   bson.M{"price": bson.M{"$eq": 1}},
		Pipeline: []bson.M{{"$group": bson.M{"_id": nil}}},
	}
	pipeline := co.matchPipeline()
	require.Len(t, pipeline, 2)
	assert.Equal(t, bson.M{"$group": bson.M{"_id": nil}}, pipeline[0])
	assert.Equal(t, bson.M{"$match": co.Filter}, pipeline[1])
}

func TestChangesUpdate(t *testing.T) {
	out := changesUpdate(map[string]any{
		"id":    7,
		"name":  "n",
		"$inc":  map[string]any{"count": 1},
		"$push": map[string]any{"tags": "x"},
	}, "id")

	assert.Equal(t, bson.M{
		"$set":  bson.M{"_id": 7, "name": "n"},
		"$inc":  map[string]any{"count": 1},
		"$push": map[string]any{"tags": "x"},
	}, out)
}

func TestChangesUpdateOperatorsOnly(t *testing.T) {
	out := changesUpdate(map[string]any{
		"$unset": map[string]any{"stale": ""},
	}, "id")
	assert.Equal(t, bson.M{"$unset": map[string]any{"stale": ""}}, out)
	assert.NotContains(t, out, "$set")
}

func TestRenameIDKey(t *testing.T) {
	out := renameIDKey(map[string]any{"id": 3, "name": "n"}, "id")
	assert.Equal(t, bson.M{"_id": 3, "name": "n"}, out)
}
