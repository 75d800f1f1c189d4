package mongodriver

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/qbloq/mongoql/queryc"
)

// Operation names understood by Execute.
const (
	OpFetch      = "fetch"
	OpFetchOne   = "fetchOne"
	OpCreate     = "create"
	OpCreateMany = "createMany"
	OpUpdate     = "update"
	OpUpsert     = "upsert"
	OpRemove     = "remove"
	OpRemoveAll  = "removeAll"
)

// Op is one operation against a collection, assembled by the caller from
// the ORM's selection graph. Query, Document and Changes carry the
// backend-agnostic forms; compilation to backend syntax happens inside
// Execute.
type Op struct {
	Type       string           `json:"operation"`
	Collection string           `json:"collection"`
	Query      map[string]any   `json:"query,omitempty"`
	Document   map[string]any   `json:"document,omitempty"`
	Documents  []map[string]any `json:"documents,omitempty"`
	Changes    map[string]any   `json:"changes,omitempty"`
	Limit      int64            `json:"limit,omitempty"`
	Skip       int64            `json:"skip,omitempty"`
}

// compiledOp is the backend form of an Op's query: a filter document plus
// any aggregation stages emitted while compiling $expr sub-clauses. NoMatch
// marks the no-match sentinel; a NoMatch op must never reach the backend.
type compiledOp struct {
	Filter   bson.M
	Pipeline []bson.M
	NoMatch  bool
}

// compileQuery compiles an op's query form. The trailing $match is NOT
// appended here; fetch paths place it after the emitted stages so that
// aggregate placeholders are materialized before the filter runs.
func compileQuery(q map[string]any, idKey string) *compiledOp {
	var stages []bson.M
	filter, ok := queryc.Compile(q, idKey, func(s ...bson.M) {
		stages = append(stages, s...)
	})
	if !ok {
		return &compiledOp{NoMatch: true}
	}
	return &compiledOp{Filter: filter, Pipeline: stages}
}

// matchPipeline returns the full aggregation pipeline for a fetch: the
// emitted grouping stages followed by the $match over their results.
func (co *compiledOp) matchPipeline() bson.A {
	pipeline := make(bson.A, 0, len(co.Pipeline)+1)
	for _, stage := range co.Pipeline {
		pipeline = append(pipeline, stage)
	}
	return append(pipeline, bson.M{"$match": co.Filter})
}

// changesUpdate wraps the ORM's flat change set into an update document.
// Keys that already name update operators pass through untouched.
func changesUpdate(changes map[string]any, idKey string) bson.M {
	set := bson.M{}
	out := bson.M{}
	for k, v := range changes {
		if len(k) > 0 && k[0] == '$' {
			out[k] = v
			continue
		}
		if k == idKey {
			k = queryc.IDField
		}
		set[k] = v
	}
	if len(set) > 0 {
		out["$set"] = set
	}
	return out
}

// renameIDKey rewrites the virtual identity key in a write payload.
func renameIDKey(doc map[string]any, idKey string) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if k == idKey {
			k = queryc.IDField
		}
		out[k] = v
	}
	return out
}
