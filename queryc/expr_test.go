package queryc

import (
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// stageRecorder collects sink invocations for inspection.
type stageRecorder struct {
	calls  int
	stages []bson.M
}

func (r *stageRecorder) sink(stages ...bson.M) {
	r.calls++
	r.stages = append(r.stages, stages...)
}

// accumField returns the generated accumulator field of a $group stage.
func accumField(t *testing.T, stage bson.M) string {
	t.Helper()
	group, ok := stage["$group"].(bson.M)
	if !ok {
		t.Fatalf("stage %#v is not a $group", stage)
	}
	for k := range group {
		if k != "_id" {
			return k
		}
	}
	t.Fatalf("no accumulator field in %#v", stage)
	return ""
}

func TestCompileExprLiterals(t *testing.T) {
	tests := []struct {
		name string
		expr any
	}{
		{"number", 42},
		{"float", 1.5},
		{"string", "plain"},
		{"boolean", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompileExpr(tt.expr, "id", nil)
			if got != tt.expr {
				t.Errorf("CompileExpr(%v) = %v", tt.expr, got)
			}
		})
	}
}

func TestCompileExprFieldRefs(t *testing.T) {
	tests := []struct {
		name string
		expr any
		want any
	}{
		{
			name: "map form",
			expr: map[string]any{"$field": "score"},
			want: "$score",
		},
		{
			name: "map form rewrites identity key",
			expr: map[string]any{"$field": "id"},
			want: "$_id",
		},
		{
			name: "two-element form",
			expr: []any{"$field", "score"},
			want: "$score",
		},
		{
			name: "two-element form rewrites identity key",
			expr: []any{"$field", "id"},
			want: "$_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompileExpr(tt.expr, "id", nil)
			if got != tt.want {
				t.Errorf("CompileExpr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompileExprContainers(t *testing.T) {
	expr := map[string]any{
		"$eq": []any{map[string]any{"$field": "id"}, 5},
	}
	got := CompileExpr(expr, "id", nil)
	want := bson.M{"$eq": bson.A{"$_id", 5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CompileExpr() = %#v, want %#v", got, want)
	}
}

func TestCompileExprAggregate(t *testing.T) {
	rec := &stageRecorder{}
	got := CompileExpr(map[string]any{"$sum": "score"}, "id", rec.sink)

	if rec.calls != 1 {
		t.Fatalf("sink invoked %d times, want 1", rec.calls)
	}
	if len(rec.stages) != 1 {
		t.Fatalf("emitted %d stages, want 1", len(rec.stages))
	}

	name := accumField(t, rec.stages[0])
	if got != "$"+name {
		t.Errorf("placeholder %v does not reference accumulator %q", got, name)
	}
	want := bson.M{"$group": bson.M{"_id": nil, name: bson.M{"$sum": "$score"}}}
	if !reflect.DeepEqual(rec.stages[0], want) {
		t.Errorf("stage = %#v, want %#v", rec.stages[0], want)
	}
}

func TestCompileExprAggregateIdentityOperand(t *testing.T) {
	rec := &stageRecorder{}
	CompileExpr(map[string]any{"$max": "id"}, "id", rec.sink)

	name := accumField(t, rec.stages[0])
	want := bson.M{"$group": bson.M{"_id": nil, name: bson.M{"$max": "$_id"}}}
	if !reflect.DeepEqual(rec.stages[0], want) {
		t.Errorf("stage = %#v, want %#v", rec.stages[0], want)
	}
}

func TestCompileExprDistinctCount(t *testing.T) {
	rec := &stageRecorder{}
	got := CompileExpr(map[string]any{"$count": "tag"}, "id", rec.sink)

	if rec.calls != 1 {
		t.Fatalf("sink invoked %d times, want 1", rec.calls)
	}
	if len(rec.stages) != 2 {
		t.Fatalf("emitted %d stages, want 2", len(rec.stages))
	}

	// first stage establishes one group per distinct operand value
	wantFirst := bson.M{"$group": bson.M{"_id": "$tag"}}
	if !reflect.DeepEqual(rec.stages[0], wantFirst) {
		t.Errorf("first stage = %#v, want %#v", rec.stages[0], wantFirst)
	}

	// second stage counts the groups into the generated field
	name := accumField(t, rec.stages[1])
	if got != "$"+name {
		t.Errorf("placeholder %v does not reference accumulator %q", got, name)
	}
	wantSecond := bson.M{"$group": bson.M{"_id": nil, name: bson.M{"$sum": 1}}}
	if !reflect.DeepEqual(rec.stages[1], wantSecond) {
		t.Errorf("second stage = %#v, want %#v", rec.stages[1], wantSecond)
	}
}

func TestCompileExprAggregateOrder(t *testing.T) {
	// nested aggregates emit depth-first, left-to-right over sorted keys
	rec := &stageRecorder{}
	CompileExpr(map[string]any{
		"a": map[string]any{"$sum": "x"},
		"b": map[string]any{"$min": "y"},
	}, "id", rec.sink)

	if rec.calls != 2 {
		t.Fatalf("sink invoked %d times, want 2", rec.calls)
	}
	firstGroup := rec.stages[0]["$group"].(bson.M)
	if op := firstGroup[accumField(t, rec.stages[0])].(bson.M); op["$sum"] != "$x" {
		t.Errorf("first emitted stage = %#v, want the $sum over $x", rec.stages[0])
	}
	secondGroup := rec.stages[1]["$group"].(bson.M)
	if op := secondGroup[accumField(t, rec.stages[1])].(bson.M); op["$min"] != "$y" {
		t.Errorf("second emitted stage = %#v, want the $min over $y", rec.stages[1])
	}
}

func TestCompileExprOperatorPriority(t *testing.T) {
	// $sum wins over $count when both are present
	rec := &stageRecorder{}
	CompileExpr(map[string]any{"$count": "a", "$sum": "b"}, "id", rec.sink)
	if len(rec.stages) != 1 {
		t.Fatalf("emitted %d stages, want 1", len(rec.stages))
	}
	group := rec.stages[0]["$group"].(bson.M)
	acc := group[accumField(t, rec.stages[0])].(bson.M)
	if acc["$sum"] != "$b" {
		t.Errorf("stage = %#v, want $sum over $b", rec.stages[0])
	}
}

func TestCompileQueryWithExpr(t *testing.T) {
	rec := &stageRecorder{}
	got, ok := Compile(map[string]any{
		"$expr": map[string]any{"$sum": "score"},
	}, "id", rec.sink)
	if !ok {
		t.Fatal("Compile() returned no-match sentinel")
	}
	if rec.calls != 1 || len(rec.stages) != 1 {
		t.Fatalf("sink calls=%d stages=%d, want 1/1", rec.calls, len(rec.stages))
	}

	name := accumField(t, rec.stages[0])
	want := bson.M{"$and": bson.A{bson.M{"$expr": "$" + name}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Compile() = %#v, want %#v", got, want)
	}
}

func TestTempName(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name := tempName()
		if len(name) != tempNameLen {
			t.Fatalf("tempName() = %q, want %d characters", name, tempNameLen)
		}
		for _, r := range name {
			if r < 'a' || r > 'z' {
				t.Fatalf("tempName() = %q, want lowercase letters only", name)
			}
		}
		seen[name] = true
	}
	// uniform sampling over 26^8 should not collide in 100 draws
	if len(seen) < 100 {
		t.Errorf("got %d distinct names out of 100", len(seen))
	}
}
