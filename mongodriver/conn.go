// Package mongodriver owns the MongoDB side of the ORM: connection
// lifecycle, dispatch of compiled filters and pipelines, and the debounced
// schema-preparation scheduler.
package mongodriver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/qbloq/mongoql/internal/util"
	"github.com/qbloq/mongoql/schema"
)

// prepareTimeout bounds one schema-preparation flush.
const prepareTimeout = 30 * time.Second

// Conn is a live connection to one MongoDB database.
type Conn struct {
	client *mongo.Client
	db     *mongo.Database
	conf   *Config
	log    *zap.Logger
	cache  *Cache
	models *schema.Registry
	prep   *preparer
	ensure singleflight.Group
}

// Connect opens a client, verifies the connection and returns a Conn. A nil
// logger gets a default one, pretty when conf.Debug is set.
func Connect(ctx context.Context, conf *Config, log *zap.Logger) (*Conn, error) {
	conf.setDefaults()
	if log == nil {
		log = util.NewLogger(conf.Debug)
	}

	opts := options.Client().ApplyURI(conf.URI)
	if conf.PoolSize > 0 {
		opts.SetMaxPoolSize(conf.PoolSize)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodriver: ping: %w", err)
	}

	cache, err := newCache(conf.CacheSize)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodriver: cache: %w", err)
	}

	c := &Conn{
		client: client,
		db:     client.Database(conf.Database),
		conf:   conf,
		log:    log,
		cache:  cache,
		models: schema.NewRegistry(),
	}
	c.prep = newPreparer(conf.PrepareDelay, c.prepareCollections)
	return c, nil
}

// Close releases the underlying client.
func (c *Conn) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Models returns the connection's model registry.
func (c *Conn) Models() *schema.Registry {
	return c.models
}

// ExtendSchema registers a model and queues its collection for
// preparation. Declarations made within the same synchronous turn are
// coalesced into one backend round trip per collection.
func (c *Conn) ExtendSchema(m *schema.Model) {
	c.models.Register(m)
	c.prep.Declare(m.Name)
}

// OpResult is the outcome of one executed operation.
type OpResult struct {
	Docs        []bson.M
	Affected    int64
	InsertedIDs []any
}

// Execute dispatches one operation to the backend.
func (c *Conn) Execute(ctx context.Context, op *Op) (*OpResult, error) {
	if op.Collection == "" {
		return nil, fmt.Errorf("mongodriver: %s requires collection", op.Type)
	}
	switch op.Type {
	case OpFetch:
		return c.fetch(ctx, op, false)
	case OpFetchOne:
		return c.fetch(ctx, op, true)
	case OpCreate:
		return c.create(ctx, op)
	case OpCreateMany:
		return c.createMany(ctx, op)
	case OpUpdate:
		return c.update(ctx, op, false)
	case OpUpsert:
		return c.update(ctx, op, true)
	case OpRemove:
		return c.remove(ctx, op, false)
	case OpRemoveAll:
		return c.remove(ctx, op, true)
	default:
		return nil, fmt.Errorf("mongodriver: unsupported operation: %s", op.Type)
	}
}

// compileOp compiles an op's query, memoized across calls. Compilation is
// pure so cached entries never go stale.
func (c *Conn) compileOp(op *Op) *compiledOp {
	if co, ok := c.cache.Get(op); ok {
		return co
	}
	co := compileQuery(op.Query, c.conf.IDKey)
	c.cache.Set(op, co)
	return co
}

func (c *Conn) fetch(ctx context.Context, op *Op, single bool) (*OpResult, error) {
	co := c.compileOp(op)
	if co.NoMatch {
		// the no-match sentinel never reaches the backend
		return &OpResult{}, nil
	}

	coll := c.db.Collection(op.Collection)
	var (
		cursor *mongo.Cursor
		err    error
	)
	if len(co.Pipeline) > 0 {
		// aggregate placeholders must be materialized before the filter
		cursor, err = coll.Aggregate(ctx, co.matchPipeline())
	} else {
		findOpts := options.Find()
		if single {
			findOpts.SetLimit(1)
		} else if op.Limit > 0 {
			findOpts.SetLimit(op.Limit)
		}
		if op.Skip > 0 {
			findOpts.SetSkip(op.Skip)
		}
		cursor, err = coll.Find(ctx, co.Filter, findOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("mongodriver: %s %s: %w", op.Type, op.Collection, err)
	}

	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("mongodriver: %s results: %w", op.Type, err)
	}
	if single && len(results) > 1 {
		results = results[:1]
	}
	c.log.Debug("fetch",
		zap.String("collection", op.Collection),
		zap.Int("docs", len(results)),
		zap.Int("stages", len(co.Pipeline)))
	return &OpResult{Docs: results}, nil
}

func (c *Conn) create(ctx context.Context, op *Op) (*OpResult, error) {
	doc, err := c.formatDocument(op.Collection, op.Document)
	if err != nil {
		return nil, err
	}
	result, err := c.db.Collection(op.Collection).InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: create %s: %w", op.Collection, err)
	}
	return &OpResult{Affected: 1, InsertedIDs: []any{result.InsertedID}}, nil
}

func (c *Conn) createMany(ctx context.Context, op *Op) (*OpResult, error) {
	docs := make([]any, 0, len(op.Documents))
	for _, d := range op.Documents {
		doc, err := c.formatDocument(op.Collection, d)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("mongodriver: createMany %s: no documents", op.Collection)
	}
	result, err := c.db.Collection(op.Collection).InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: createMany %s: %w", op.Collection, err)
	}
	return &OpResult{
		Affected:    int64(len(result.InsertedIDs)),
		InsertedIDs: result.InsertedIDs,
	}, nil
}

func (c *Conn) update(ctx context.Context, op *Op, upsert bool) (*OpResult, error) {
	co := c.compileOp(op)
	if co.NoMatch {
		return &OpResult{}, nil
	}
	if len(co.Pipeline) > 0 {
		return nil, fmt.Errorf("mongodriver: aggregate expressions not supported in %s filter", op.Type)
	}

	change := changesUpdate(op.Changes, c.conf.IDKey)
	coll := c.db.Collection(op.Collection)

	if upsert {
		updateOpts := options.UpdateOne().SetUpsert(true)
		result, err := coll.UpdateOne(ctx, co.Filter, change, updateOpts)
		if err != nil {
			return nil, fmt.Errorf("mongodriver: upsert %s: %w", op.Collection, err)
		}
		affected := result.MatchedCount
		if result.UpsertedCount > 0 {
			affected = result.UpsertedCount
		}
		return &OpResult{Affected: affected}, nil
	}

	result, err := coll.UpdateMany(ctx, co.Filter, change)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: update %s: %w", op.Collection, err)
	}
	return &OpResult{Affected: result.ModifiedCount}, nil
}

func (c *Conn) remove(ctx context.Context, op *Op, all bool) (*OpResult, error) {
	co := c.compileOp(op)
	if co.NoMatch {
		return &OpResult{}, nil
	}
	if len(co.Pipeline) > 0 {
		return nil, fmt.Errorf("mongodriver: aggregate expressions not supported in %s filter", op.Type)
	}

	coll := c.db.Collection(op.Collection)
	var (
		result *mongo.DeleteResult
		err    error
	)
	if all {
		result, err = coll.DeleteMany(ctx, co.Filter)
	} else {
		result, err = coll.DeleteOne(ctx, co.Filter)
	}
	if err != nil {
		return nil, fmt.Errorf("mongodriver: remove %s: %w", op.Collection, err)
	}
	return &OpResult{Affected: result.DeletedCount}, nil
}

// formatDocument validates a write payload against the registered model, if
// any, and rewrites the virtual identity key.
func (c *Conn) formatDocument(collection string, doc map[string]any) (bson.M, error) {
	if doc == nil {
		return nil, fmt.Errorf("mongodriver: create %s: document required", collection)
	}
	if model, ok := c.models.Model(collection); ok {
		formatted, err := model.Format(doc)
		if err != nil {
			return nil, fmt.Errorf("mongodriver: %w", err)
		}
		doc = formatted
	}
	return renameIDKey(doc, c.conf.IDKey), nil
}

// prepareCollections is the preparer's flush: one round trip per declared
// collection, deduplicated against concurrent flushes of the same name.
func (c *Conn) prepareCollections(names []string) {
	ctx, cancel := context.WithTimeout(context.Background(), prepareTimeout)
	defer cancel()

	for _, name := range names {
		_, err, _ := c.ensure.Do(name, func() (any, error) {
			return nil, c.ensureCollection(ctx, name)
		})
		if err != nil {
			c.log.Warn("prepare collection",
				zap.String("collection", name), zap.Error(err))
			continue
		}
		c.log.Debug("prepared collection", zap.String("collection", name))
	}
}

func (c *Conn) ensureCollection(ctx context.Context, name string) error {
	err := c.db.CreateCollection(ctx, name)
	if err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists" {
			return nil
		}
		return fmt.Errorf("mongodriver: create collection %s: %w", name, err)
	}
	return nil
}
