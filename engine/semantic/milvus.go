package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/aviov/largo-chat/engine/domain"
	"github.com/aviov/largo-chat/pkg/fn"
)

// MilvusClient is the subset of client.Client used by the store.
type MilvusClient interface {
	HasCollection(ctx context.Context, collName string) (bool, error)
	DescribeCollection(ctx context.Context, collName string) (*entity.Collection, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, shardsNum int32, opts ...client.CreateCollectionOption) error
	CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...client.IndexOption) error
	DescribeIndex(ctx context.Context, collName string, fieldName string, opts ...client.IndexOption) ([]entity.Index, error)
	LoadCollection(ctx context.Context, collName string, async bool, opts ...client.LoadCollectionOption) error
	Insert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string,
		vectors []entity.Vector, vectorField string, metricType entity.MetricType, topK int,
		sp entity.SearchParam, opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
	Close() error
}

// MilvusDialer opens a client connection.
type MilvusDialer func(ctx context.Context) (MilvusClient, error)

// DialMilvus returns a dialer for the server at addr.
func DialMilvus(addr, user, password string) MilvusDialer {
	return func(ctx context.Context) (MilvusClient, error) {
		c, err := client.NewClient(ctx, client.Config{
			Address:  addr,
			Username: user,
			Password: password,
		})
		if err != nil {
			return nil, fmt.Errorf("semantic: connect milvus %s: %w", addr, err)
		}
		return c, nil
	}
}

// Milvus is a Store backed by a Milvus collection.
type Milvus struct {
	client MilvusClient
	opts   Options
}

// NewMilvus wraps an already bootstrapped collection.
func NewMilvus(c MilvusClient, opts Options) *Milvus {
	return &Milvus{client: c, opts: opts}
}

// BootstrapMilvus connects and ensures the collection exists, retrying the
// whole sequence per retry. The connection from a failed attempt is closed
// before the next one. Exhausting retries returns the last error. A schema
// mismatch is not retried.
func BootstrapMilvus(ctx context.Context, dial MilvusDialer, opts Options, retry fn.RetryOpts, log *slog.Logger) (*Milvus, error) {
	if log == nil {
		log = slog.Default()
	}
	attempts := retry.MaxAttempts
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = func(err error) bool { return !errors.Is(err, ErrSchemaMismatch) }
	}
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("milvus bootstrap failed, retrying",
			"attempt", attempt, "max_attempts", attempts, "wait", wait, "err", err)
	}

	return fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[*Milvus] {
		c, err := dial(ctx)
		if err != nil {
			return fn.Err[*Milvus](err)
		}
		store, created, err := EnsureMilvus(ctx, c, opts)
		if err != nil {
			c.Close()
			return fn.Err[*Milvus](err)
		}
		log.Info("milvus collection ready",
			"collection", opts.Collection, "dim", store.Dimension(), "created", created)
		return fn.Ok(store)
	}).Unwrap()
}

// EnsureMilvus returns a store for opts.Collection, creating the collection
// when absent and the HNSW index when missing. The schema of an existing
// collection is checked but never altered; its vector dimension is read back.
func EnsureMilvus(ctx context.Context, c MilvusClient, opts Options) (*Milvus, bool, error) {
	exists, err := c.HasCollection(ctx, opts.Collection)
	if err != nil {
		return nil, false, fmt.Errorf("semantic: has collection %s: %w", opts.Collection, err)
	}

	created := false
	if exists {
		coll, err := c.DescribeCollection(ctx, opts.Collection)
		if err != nil {
			return nil, false, fmt.Errorf("semantic: describe %s: %w", opts.Collection, err)
		}
		dim, err := schemaDim(coll.Schema)
		if err != nil {
			return nil, false, fmt.Errorf("semantic: describe %s: %w", opts.Collection, err)
		}
		if err := checkSchema(coll.Schema); err != nil {
			return nil, false, fmt.Errorf("semantic: collection %s: %w", opts.Collection, err)
		}
		opts.Dimension = dim
	} else {
		if err := c.CreateCollection(ctx, milvusSchema(opts), 1); err != nil {
			return nil, false, fmt.Errorf("semantic: create collection %s: %w", opts.Collection, err)
		}
		created = true
	}

	// A previous run may have created the collection and failed before the index.
	if err := ensureIndex(ctx, c, opts); err != nil {
		return nil, false, err
	}
	if err := c.LoadCollection(ctx, opts.Collection, false); err != nil {
		return nil, false, fmt.Errorf("semantic: load %s: %w", opts.Collection, err)
	}
	return NewMilvus(c, opts), created, nil
}

// ensureIndex builds the HNSW index on the embedding field unless one exists.
// Milvus reports a missing index as an error, so any describe failure leads
// to a create attempt.
func ensureIndex(ctx context.Context, c MilvusClient, opts Options) error {
	if idx, err := c.DescribeIndex(ctx, opts.Collection, FieldEmbedding); err == nil && len(idx) > 0 {
		return nil
	}
	hnsw, err := entity.NewIndexHNSW(entity.L2, opts.M, opts.EfConstruction)
	if err != nil {
		return fmt.Errorf("semantic: hnsw index: %w", err)
	}
	if err := c.CreateIndex(ctx, opts.Collection, FieldEmbedding, hnsw, false); err != nil {
		return fmt.Errorf("semantic: create index on %s: %w", opts.Collection, err)
	}
	return nil
}

func milvusSchema(opts Options) *entity.Schema {
	return entity.NewSchema().
		WithName(opts.Collection).
		WithDescription(opts.Description).
		WithAutoID(true).
		WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeInt64).
			WithIsPrimaryKey(true).WithIsAutoID(true)).
		WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(opts.Dimension))).
		WithField(entity.NewField().WithName(FieldText).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxTextLength)).
		WithField(entity.NewField().WithName(FieldDocKey).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxDocKeyLength)).
		WithField(entity.NewField().WithName(FieldChunkIndex).WithDataType(entity.FieldTypeInt64))
}

func schemaDim(s *entity.Schema) (int, error) {
	if s == nil {
		return 0, errors.New("no schema")
	}
	for _, f := range s.Fields {
		if f.Name != FieldEmbedding {
			continue
		}
		dim, err := strconv.Atoi(f.TypeParams[entity.TypeParamDim])
		if err != nil {
			return 0, fmt.Errorf("field %s: bad dim %q", f.Name, f.TypeParams[entity.TypeParamDim])
		}
		return dim, nil
	}
	return 0, fmt.Errorf("no %s field", FieldEmbedding)
}

// checkSchema verifies that an existing collection can hold the rows Insert
// writes.
func checkSchema(s *entity.Schema) error {
	want := []struct {
		name   string
		typ    entity.FieldType
		maxLen int
	}{
		{FieldEmbedding, entity.FieldTypeFloatVector, 0},
		{FieldText, entity.FieldTypeVarChar, maxTextLength},
		{FieldDocKey, entity.FieldTypeVarChar, maxDocKeyLength},
		{FieldChunkIndex, entity.FieldTypeInt64, 0},
	}
	fields := make(map[string]*entity.Field, len(s.Fields))
	for _, f := range s.Fields {
		fields[f.Name] = f
	}
	for _, w := range want {
		f, ok := fields[w.name]
		if !ok {
			return fmt.Errorf("%w: no %s field", ErrSchemaMismatch, w.name)
		}
		if f.DataType != w.typ {
			return fmt.Errorf("%w: field %s is %s, want %s", ErrSchemaMismatch, w.name, f.DataType.Name(), w.typ.Name())
		}
		if w.maxLen == 0 {
			continue
		}
		if n, err := strconv.Atoi(f.TypeParams[entity.TypeParamMaxLength]); err != nil || n < w.maxLen {
			return fmt.Errorf("%w: field %s max_length %q, want at least %d",
				ErrSchemaMismatch, w.name, f.TypeParams[entity.TypeParamMaxLength], w.maxLen)
		}
	}
	return nil
}

// Dimension returns the collection's vector length.
func (m *Milvus) Dimension() int { return m.opts.Dimension }

// Insert writes rows in a single batched call.
func (m *Milvus) Insert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := checkRows(rows, m.opts.Dimension); err != nil {
		return err
	}

	vectors := make([][]float32, len(rows))
	texts := make([]string, len(rows))
	keys := make([]string, len(rows))
	indexes := make([]int64, len(rows))
	for i, r := range rows {
		vectors[i] = r.Embedding
		texts[i] = r.Chunk.Text
		keys[i] = r.Chunk.Source
		indexes[i] = int64(r.Chunk.Index)
	}

	_, err := m.client.Insert(ctx, m.opts.Collection, "",
		entity.NewColumnFloatVector(FieldEmbedding, m.opts.Dimension, vectors),
		entity.NewColumnVarChar(FieldText, texts),
		entity.NewColumnVarChar(FieldDocKey, keys),
		entity.NewColumnInt64(FieldChunkIndex, indexes),
	)
	if err != nil {
		return fmt.Errorf("semantic: insert %d rows: %w", len(rows), err)
	}
	return nil
}

// Search runs an L2 top-k query and returns chunk texts nearest first.
func (m *Milvus) Search(ctx context.Context, vec []float32, topK int) ([]domain.Match, error) {
	if err := checkQuery(vec, m.opts.Dimension); err != nil {
		return nil, err
	}
	sp, err := entity.NewIndexHNSWSearchParam(max(m.opts.EfSearch, topK))
	if err != nil {
		return nil, fmt.Errorf("semantic: search params: %w", err)
	}

	results, err := m.client.Search(ctx, m.opts.Collection, nil, "", []string{FieldText},
		[]entity.Vector{entity.FloatVector(vec)}, FieldEmbedding, entity.L2, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	res := results[0]
	if res.Err != nil {
		return nil, fmt.Errorf("semantic: search: %w", res.Err)
	}
	col, ok := res.Fields.GetColumn(FieldText).(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("semantic: search: result has no %s column", FieldText)
	}
	matches := make([]domain.Match, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		text, err := col.ValueByIdx(i)
		if err != nil {
			return nil, fmt.Errorf("semantic: search: row %d: %w", i, err)
		}
		match := domain.Match{Text: text}
		if i < len(res.Scores) {
			match.Distance = res.Scores[i]
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// Close releases the client connection.
func (m *Milvus) Close() error { return m.client.Close() }
