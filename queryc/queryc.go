// Package queryc compiles the ORM's backend-agnostic query and expression
// forms into MongoDB filter documents and aggregation pipeline stages.
package queryc

import (
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// IDField is MongoDB's reserved identity field. Every reference to the
// caller-chosen virtual key is rewritten to it, in filters and expressions.
const IDField = "_id"

// Match classifies a compiled field predicate. A result is exactly one of
// constrained, always-matches or never-matches; conflating MatchAll with an
// empty constraint document is a correctness bug.
type Match int

const (
	// MatchSome means the predicate compiled to a filter fragment.
	MatchSome Match = iota
	// MatchAll means the predicate matches every document.
	MatchAll
	// MatchNone means the predicate can match no document.
	MatchNone
)

// StageSink receives aggregation pipeline stages emitted while compiling
// expressions. It is invoked once per aggregate node, in depth-first
// left-to-right traversal order, and the stages it receives are meant to be
// concatenated into a single pipeline in that order.
type StageSink func(stages ...bson.M)

// Compile compiles a query document into a MongoDB filter. idKey is the
// virtual identity key; wherever it appears as a field name it is rewritten
// to "_id". Aggregate expressions under $expr emit pipeline stages through
// sink, which may be nil when the caller expects none.
//
// ok is false when the query can match no documents at all. Callers must
// check it before treating the filter as authoritative: a nil filter with
// ok=false means "match nothing", while an empty filter with ok=true means
// "match everything".
func Compile(q map[string]any, idKey string, sink StageSink) (filter bson.M, ok bool) {
	c := &compiler{idKey: idKey, sink: sink}
	return c.compileQuery(q)
}

// compiler holds per-invocation state. A fresh one is created for every
// top-level compile; nothing is shared across calls.
type compiler struct {
	idKey string
	sink  StageSink
}

func (c *compiler) resolve(name string) string {
	if name == c.idKey {
		return IDField
	}
	return name
}

// compileQuery compiles a full query expression: per-field predicates plus
// the top-level $and/$or/$not/$expr combinators.
func (c *compiler) compileQuery(q map[string]any) (bson.M, bool) {
	out := bson.M{}
	var extra []bson.M

	for _, k := range sortedKeys(q) {
		v := q[k]
		switch k {
		case "$and":
			children, _ := asList(v)
			if len(children) == 0 {
				continue // empty conjunction constrains nothing
			}
			ands := make(bson.A, 0, len(children))
			for _, ch := range children {
				doc, ok := c.compileQuery(asQuery(ch))
				if !ok {
					return nil, false
				}
				ands = append(ands, doc)
			}
			out["$and"] = ands

		case "$or":
			children, _ := asList(v)
			if len(children) == 0 {
				return nil, false // empty disjunction matches nothing
			}
			ors := make(bson.A, 0, len(children))
			for _, ch := range children {
				doc, ok := c.compileQuery(asQuery(ch))
				if !ok {
					continue // a no-match child contributes no disjunct
				}
				ors = append(ors, doc)
			}
			if len(ors) == 0 {
				return nil, false
			}
			out["$or"] = ors

		case "$not":
			doc, ok := c.compileQuery(asQuery(v))
			if !ok {
				continue // negated no-match constrains nothing
			}
			if len(doc) == 0 {
				return nil, false // negated match-all matches nothing
			}
			out["$nor"] = bson.A{doc}

		case "$expr":
			extra = append(extra, bson.M{"$expr": c.compileExpr(v)})

		default:
			key := c.resolve(k)
			val, m := c.compileField(key, v, &extra)
			switch m {
			case MatchNone:
				return nil, false
			case MatchAll:
				// contributes nothing under the key
			default:
				if prev, ok := out[key].(bson.M); ok {
					if doc, ok := val.(bson.M); ok {
						for dk, dv := range doc {
							prev[dk] = dv
						}
						break
					}
				}
				out[key] = val
			}
		}
	}

	if len(extra) > 0 {
		ands, _ := out["$and"].(bson.A)
		for _, e := range extra {
			ands = append(ands, e)
		}
		out["$and"] = ands
	}
	return out, true
}

// compileField compiles one field's predicate into the value placed under
// the field's key. Constraints that cannot live under that key (grouped
// $or/$not fragments, $regexFor predicates) are appended to extra.
func (c *compiler) compileField(field string, fq any, extra *[]bson.M) (any, Match) {
	switch v := fq.(type) {
	case nil:
		return bson.M{"$exists": false}, MatchSome
	case *regexp.Regexp:
		return bson.M{"$regex": v.String()}, MatchSome
	case bson.Regex:
		return bson.M{"$regex": v}, MatchSome
	case map[string]any:
		return c.compileFieldOps(field, v, extra)
	case bson.M:
		return c.compileFieldOps(field, map[string]any(v), extra)
	default:
		if list, ok := asList(fq); ok {
			if len(list) == 0 {
				return nil, MatchNone // empty membership can match nothing
			}
			return bson.M{"$in": bson.A(list)}, MatchSome
		}
		// scalars and dates are shorthand for equality
		return bson.M{"$eq": v}, MatchSome
	}
}

// compileFieldOps compiles an operator object for one field.
func (c *compiler) compileFieldOps(field string, ops map[string]any, extra *[]bson.M) (any, Match) {
	out := bson.M{}

	for _, k := range sortedKeys(ops) {
		v := ops[k]
		switch k {
		case "$and":
			children, _ := asList(v)
			for _, ch := range children {
				doc, m := c.compileFieldDoc(field, ch)
				switch m {
				case MatchNone:
					return nil, MatchNone
				case MatchAll:
					// dropped
				default:
					*extra = append(*extra, doc)
				}
			}

		case "$or":
			children, _ := asList(v)
			if len(children) == 0 {
				return nil, MatchNone
			}
			if lits, ok := scalarList(children); ok {
				// disjunction of plain literals is membership
				out["$in"] = bson.A(lits)
				continue
			}
			ors := make(bson.A, 0, len(children))
			all := false
			for _, ch := range children {
				doc, m := c.compileFieldDoc(field, ch)
				switch m {
				case MatchAll:
					all = true
				case MatchNone:
					// contributes no disjunct
				default:
					ors = append(ors, doc)
				}
			}
			if all {
				continue // one branch matches everything, so does the $or
			}
			if len(ors) == 0 {
				return nil, MatchNone
			}
			*extra = append(*extra, bson.M{"$or": ors})

		case "$not":
			doc, m := c.compileFieldDoc(field, v)
			switch m {
			case MatchAll:
				return nil, MatchNone
			case MatchNone:
				// negated no-match constrains nothing
			default:
				// $nor over a compound child forces a full scan; costly
				*extra = append(*extra, bson.M{"$nor": bson.A{doc}})
			}

		case "$el":
			doc, m := c.compileElem(field, v, extra)
			switch m {
			case MatchNone:
				return nil, MatchNone
			case MatchAll:
				// no element constraint
			default:
				out["$elemMatch"] = doc
			}

		case "$in":
			// empty membership can match nothing, same as the array
			// shorthand; anything else passes through untouched
			if list, ok := asList(v); ok && len(list) == 0 {
				return nil, MatchNone
			}
			out[k] = v

		case "$regexFor":
			// The field's stored value is the pattern; the operand names the
			// input. Needs server-side expression evaluation ($regexMatch).
			input := v
			if s, ok := v.(string); ok {
				input = "$" + c.resolve(s)
			}
			*extra = append(*extra, bson.M{"$expr": bson.M{"$regexMatch": bson.M{
				"input": input,
				"regex": "$" + field,
			}}})

		default:
			// trusted passthrough to a backend-native operator
			out[k] = v
		}
	}

	if len(out) == 0 {
		return nil, MatchAll
	}
	return out, MatchSome
}

// compileElem compiles a field query in element scope, producing the
// document placed under $elemMatch. A predicate here constrains one array
// element, so combinator fragments fold inside the element document rather
// than grouping beside the field key; only $regexFor keeps document scope
// through the accumulator, since $expr cannot run inside $elemMatch.
func (c *compiler) compileElem(field string, fq any, extra *[]bson.M) (bson.M, Match) {
	switch v := fq.(type) {
	case nil:
		return bson.M{"$exists": false}, MatchSome
	case *regexp.Regexp:
		return bson.M{"$regex": v.String()}, MatchSome
	case bson.Regex:
		return bson.M{"$regex": v}, MatchSome
	case map[string]any:
		return c.compileElemOps(field, v, extra)
	case bson.M:
		return c.compileElemOps(field, map[string]any(v), extra)
	default:
		if list, ok := asList(fq); ok {
			if len(list) == 0 {
				return nil, MatchNone
			}
			return bson.M{"$in": bson.A(list)}, MatchSome
		}
		return bson.M{"$eq": v}, MatchSome
	}
}

// compileElemOps compiles an operator object in element scope.
func (c *compiler) compileElemOps(field string, ops map[string]any, extra *[]bson.M) (bson.M, Match) {
	out := bson.M{}
	var parts []bson.M

	for _, k := range sortedKeys(ops) {
		v := ops[k]
		switch k {
		case "$and":
			children, _ := asList(v)
			for _, ch := range children {
				doc, m := c.compileElem(field, ch, extra)
				switch m {
				case MatchNone:
					return nil, MatchNone
				case MatchAll:
					// dropped
				default:
					parts = append(parts, doc)
				}
			}

		case "$or":
			children, _ := asList(v)
			if len(children) == 0 {
				return nil, MatchNone
			}
			if lits, ok := scalarList(children); ok {
				out["$in"] = bson.A(lits)
				continue
			}
			ors := make(bson.A, 0, len(children))
			all := false
			for _, ch := range children {
				doc, m := c.compileElem(field, ch, extra)
				switch m {
				case MatchAll:
					all = true
				case MatchNone:
					// contributes no disjunct
				default:
					ors = append(ors, doc)
				}
			}
			if all {
				continue
			}
			if len(ors) == 0 {
				return nil, MatchNone
			}
			parts = append(parts, bson.M{"$or": ors})

		case "$not":
			doc, m := c.compileElem(field, v, extra)
			switch m {
			case MatchAll:
				return nil, MatchNone
			case MatchNone:
				// negated no-match constrains nothing
			default:
				// operator-form negation is legal inside $elemMatch
				out["$not"] = doc
			}

		case "$el":
			doc, m := c.compileElem(field, v, extra)
			switch m {
			case MatchNone:
				return nil, MatchNone
			case MatchAll:
				// no element constraint
			default:
				out["$elemMatch"] = doc
			}

		case "$in":
			if list, ok := asList(v); ok && len(list) == 0 {
				return nil, MatchNone
			}
			out[k] = v

		case "$regexFor":
			input := v
			if s, ok := v.(string); ok {
				input = "$" + c.resolve(s)
			}
			*extra = append(*extra, bson.M{"$expr": bson.M{"$regexMatch": bson.M{
				"input": input,
				"regex": "$" + field,
			}}})

		default:
			out[k] = v
		}
	}

	if len(parts) > 0 {
		if len(out) == 0 && len(parts) == 1 {
			return parts[0], MatchSome
		}
		ands := make(bson.A, len(parts))
		for i, p := range parts {
			ands[i] = p
		}
		out["$and"] = ands
	}
	if len(out) == 0 {
		return nil, MatchAll
	}
	return out, MatchSome
}

// compileFieldDoc compiles one field query into a standalone filter
// document, the wrapping step used by the recursive combinators.
func (c *compiler) compileFieldDoc(field string, fq any) (bson.M, Match) {
	var extra []bson.M
	val, m := c.compileField(field, fq, &extra)
	if m == MatchNone {
		return nil, MatchNone
	}

	var parts []bson.M
	if m == MatchSome {
		parts = append(parts, bson.M{field: val})
	}
	parts = append(parts, extra...)

	switch len(parts) {
	case 0:
		return nil, MatchAll
	case 1:
		return parts[0], MatchSome
	default:
		ands := make(bson.A, len(parts))
		for i, p := range parts {
			ands[i] = p
		}
		return bson.M{"$and": ands}, MatchSome
	}
}

// scalarList reports whether every element is a plain literal (no operator
// object, array, pattern or null) and returns them as-is.
func scalarList(list []any) ([]any, bool) {
	for _, v := range list {
		switch v.(type) {
		case nil, map[string]any, bson.M, bson.D, *regexp.Regexp, bson.Regex:
			return nil, false
		}
		if _, ok := asList(v); ok {
			return nil, false
		}
	}
	return list, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// asList normalizes the slice encodings a query value may arrive in.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case bson.A:
		return []any(l), true
	default:
		return nil, false
	}
}

// asQuery normalizes the document encodings a sub-query may arrive in.
// Non-documents compile as empty queries; the compiler is not defensive
// against malformed input.
func asQuery(v any) map[string]any {
	switch q := v.(type) {
	case map[string]any:
		return q
	case bson.M:
		return map[string]any(q)
	default:
		return nil
	}
}
