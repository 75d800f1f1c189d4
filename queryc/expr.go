package queryc

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// FieldTag marks a field reference inside an expression. A reference is
// written either as {"$field": name} or as the two-element form
// ["$field", name].
const FieldTag = "$field"

// aggregateOps is the fixed operator set, tested in this priority order;
// the first key present in an aggregate call wins.
var aggregateOps = [...]string{"$sum", "$avg", "$min", "$max", "$count"}

// CompileExpr compiles an expression tree into a MongoDB expression value.
// Literals pass through, field references resolve to "$name" paths with the
// virtual-key rewrite applied, and aggregate calls emit $group stages
// through sink while returning a "$<generated>" placeholder that names the
// stage's accumulator field. Containers compile element-wise, shape
// preserved.
func CompileExpr(e any, idKey string, sink StageSink) any {
	c := &compiler{idKey: idKey, sink: sink}
	return c.compileExpr(e)
}

func (c *compiler) compileExpr(e any) any {
	switch v := e.(type) {
	case map[string]any:
		return c.compileExprDoc(v)
	case bson.M:
		return c.compileExprDoc(map[string]any(v))
	default:
		if list, ok := asList(e); ok {
			if name, ok := fieldRefList(list); ok {
				return "$" + c.resolve(name)
			}
			out := make(bson.A, len(list))
			for i, el := range list {
				out[i] = c.compileExpr(el)
			}
			return out
		}
		// numbers, strings, booleans and anything else pass through
		return v
	}
}

func (c *compiler) compileExprDoc(doc map[string]any) any {
	if name, ok := doc[FieldTag].(string); ok && len(doc) == 1 {
		return "$" + c.resolve(name)
	}
	for _, op := range aggregateOps {
		if operand, ok := doc[op]; ok {
			return c.compileAggregate(op, operand)
		}
	}
	out := bson.M{}
	for _, k := range sortedKeys(doc) {
		out[k] = c.compileExpr(doc[k])
	}
	return out
}

// compileAggregate emits the $group stage(s) for one aggregate call and
// returns the placeholder referencing the generated accumulator field.
func (c *compiler) compileAggregate(op string, operand any) any {
	var arg any
	if name, ok := operand.(string); ok {
		// a bare name is a direct field-path reference
		arg = "$" + c.resolve(name)
	} else {
		arg = c.compileExpr(operand)
	}

	name := tempName()
	if op == "$count" {
		// distinct count: first collapse rows into one group per operand
		// value, then count the groups
		c.emit(
			bson.M{"$group": bson.M{"_id": arg}},
			bson.M{"$group": bson.M{"_id": nil, name: bson.M{"$sum": 1}}},
		)
	} else {
		c.emit(bson.M{"$group": bson.M{"_id": nil, name: bson.M{op: arg}}})
	}
	return "$" + name
}

func (c *compiler) emit(stages ...bson.M) {
	if c.sink != nil {
		c.sink(stages...)
	}
}

// fieldRefList recognizes the two-element reference form ["$field", name].
func fieldRefList(list []any) (string, bool) {
	if len(list) != 2 {
		return "", false
	}
	if tag, ok := list[0].(string); !ok || tag != FieldTag {
		return "", false
	}
	name, ok := list[1].(string)
	return name, ok
}
