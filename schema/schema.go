// Package schema is the model registry: per-collection field metadata and
// write-payload validation. The query compiler itself never calls into it;
// it assumes field names it receives are already valid.
package schema

import (
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Field types understood by the registry. They mirror the BSON types the
// backend reports during introspection.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeDate   = "date"
	TypeObject = "object"
	TypeArray  = "array"
)

// Field describes one model field.
type Field struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
	Default  any    `yaml:"default" json:"default"`
}

// Model describes one collection.
type Model struct {
	Name   string           `yaml:"name" json:"name"`
	Fields map[string]Field `yaml:"fields" json:"fields"`
}

// Registry holds registered models. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Register adds or replaces a model.
func (r *Registry) Register(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name] = m
}

// Model returns the model registered under name.
func (r *Registry) Model(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Format validates a write payload against the model and returns a copy
// with defaults applied. Unknown fields, missing required fields and type
// mismatches are errors.
func (m *Model) Format(doc map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(doc))

	for k, v := range doc {
		f, ok := m.Fields[k]
		if !ok {
			return nil, fmt.Errorf("schema: %s: unknown field %q", m.Name, k)
		}
		if v != nil {
			if err := checkType(f.Type, v); err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", m.Name, k, err)
			}
		}
		out[k] = v
	}

	for name, f := range m.Fields {
		if _, ok := out[name]; ok {
			continue
		}
		if f.Default != nil {
			out[name] = f.Default
			continue
		}
		if f.Required {
			return nil, fmt.Errorf("schema: %s: missing required field %q", m.Name, name)
		}
	}
	return out, nil
}

// checkType verifies a value against a declared field type. An empty
// declared type accepts anything.
func checkType(typ string, v any) error {
	if typ == "" {
		return nil
	}
	got := inferType(v)
	// ints are acceptable where floats are declared
	if typ == TypeFloat && got == TypeInt {
		return nil
	}
	if got != typ {
		return fmt.Errorf("want %s, got %s", typ, got)
	}
	return nil
}

// TypeOf maps a Go value to a field type. Introspection uses it to build
// models from sampled documents.
func TypeOf(v any) string {
	return inferType(v)
}

// inferType maps a Go value to a field type, the same mapping used when
// sampling documents during introspection.
func inferType(v any) string {
	switch v.(type) {
	case string, bson.ObjectID:
		return TypeString
	case int, int32, int64:
		return TypeInt
	case float32, float64:
		return TypeFloat
	case bool:
		return TypeBool
	case time.Time, bson.DateTime:
		return TypeDate
	case []any, bson.A:
		return TypeArray
	case map[string]any, bson.M, bson.D:
		return TypeObject
	default:
		return TypeObject
	}
}
