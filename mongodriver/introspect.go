package mongodriver

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/qbloq/mongoql/schema"
)

// defaultSampleSize is how many documents IntrospectModel examines when the
// caller passes zero.
const defaultSampleSize = 100

// IntrospectModel samples a collection and builds a model from the fields
// it discovers. Only _id is treated as required; everything else observed
// in the sample is optional. The model is not registered automatically.
func (c *Conn) IntrospectModel(ctx context.Context, name string, sampleSize int) (*schema.Model, error) {
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}

	coll := c.db.Collection(name)
	pipeline := bson.A{
		bson.M{"$sample": bson.M{"size": sampleSize}},
	}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: introspect %s: %w", name, err)
	}
	defer cursor.Close(ctx)

	fields := make(map[string]schema.Field)
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		for key, val := range doc {
			if _, exists := fields[key]; exists {
				continue
			}
			fields[key] = schema.Field{
				Name:     key,
				Type:     schema.TypeOf(val),
				Required: key == "_id", // only _id is guaranteed
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongodriver: introspect %s: %w", name, err)
	}

	return &schema.Model{Name: name, Fields: fields}, nil
}
