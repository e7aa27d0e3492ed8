package semantic

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/aviov/largo-chat/engine/domain"
	"github.com/aviov/largo-chat/pkg/fn"
)

type storedRow struct {
	vec  []float32
	text string
	key  string
	idx  int64
}

// fakeMilvus keeps collections in memory and answers searches by brute force.
type fakeMilvus struct {
	schemas     map[string]*entity.Schema
	rows        map[string][]storedRow
	indexed     map[string]bool
	creates     int
	indexes     int
	indexFails  int
	indexType   entity.IndexType
	loads       int
	insertErr   error
	hasErr      error
	closed      bool
	lastTopK    int
	lastOutputs []string
}

func newFakeMilvus() *fakeMilvus {
	return &fakeMilvus{
		schemas: map[string]*entity.Schema{},
		rows:    map[string][]storedRow{},
		indexed: map[string]bool{},
	}
}

func (f *fakeMilvus) HasCollection(_ context.Context, name string) (bool, error) {
	if f.hasErr != nil {
		return false, f.hasErr
	}
	_, ok := f.schemas[name]
	return ok, nil
}

func (f *fakeMilvus) DescribeCollection(_ context.Context, name string) (*entity.Collection, error) {
	s, ok := f.schemas[name]
	if !ok {
		return nil, errors.New("collection not found")
	}
	return &entity.Collection{Name: name, Schema: s}, nil
}

func (f *fakeMilvus) CreateCollection(_ context.Context, schema *entity.Schema, _ int32, _ ...client.CreateCollectionOption) error {
	f.creates++
	f.schemas[schema.CollectionName] = schema
	return nil
}

func (f *fakeMilvus) CreateIndex(_ context.Context, name string, _ string, idx entity.Index, _ bool, _ ...client.IndexOption) error {
	f.indexes++
	if f.indexFails > 0 {
		f.indexFails--
		return errors.New("index build interrupted")
	}
	f.indexed[name] = true
	f.indexType = idx.IndexType()
	return nil
}

func (f *fakeMilvus) DescribeIndex(_ context.Context, name string, _ string, _ ...client.IndexOption) ([]entity.Index, error) {
	if !f.indexed[name] {
		return nil, errors.New("index not found")
	}
	return []entity.Index{entity.NewGenericIndex("embeddings_idx", f.indexType, nil)}, nil
}

// LoadCollection fails without an index, as Milvus does.
func (f *fakeMilvus) LoadCollection(_ context.Context, name string, _ bool, _ ...client.LoadCollectionOption) error {
	if !f.indexed[name] {
		return errors.New("index not found")
	}
	f.loads++
	return nil
}

func (f *fakeMilvus) Insert(_ context.Context, name string, _ string, columns ...entity.Column) (entity.Column, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	var (
		vecs  [][]float32
		texts []string
		keys  []string
		idxs  []int64
	)
	for _, c := range columns {
		switch col := c.(type) {
		case *entity.ColumnFloatVector:
			vecs = col.Data()
		case *entity.ColumnVarChar:
			if col.Name() == FieldText {
				texts = col.Data()
			} else {
				keys = col.Data()
			}
		case *entity.ColumnInt64:
			idxs = col.Data()
		}
	}
	for i := range vecs {
		f.rows[name] = append(f.rows[name], storedRow{vec: vecs[i], text: texts[i], key: keys[i], idx: idxs[i]})
	}
	return nil, nil
}

func (f *fakeMilvus) Search(_ context.Context, name string, _ []string, _ string, outputFields []string,
	vectors []entity.Vector, _ string, _ entity.MetricType, topK int,
	_ entity.SearchParam, _ ...client.SearchQueryOptionFunc) ([]client.SearchResult, error) {
	f.lastTopK = topK
	f.lastOutputs = outputFields
	q := []float32(vectors[0].(entity.FloatVector))

	type scored struct {
		text string
		dist float32
	}
	var all []scored
	for _, r := range f.rows[name] {
		var d float32
		for i := range q {
			diff := q[i] - r.vec[i]
			d += diff * diff
		}
		all = append(all, scored{r.text, d})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if len(all) > topK {
		all = all[:topK]
	}
	texts := make([]string, len(all))
	scores := make([]float32, len(all))
	for i, s := range all {
		texts[i] = s.text
		scores[i] = s.dist
	}
	return []client.SearchResult{{
		ResultCount: len(all),
		Scores:      scores,
		Fields:      client.ResultSet{entity.NewColumnVarChar(FieldText, texts)},
	}}, nil
}

func (f *fakeMilvus) Close() error {
	f.closed = true
	return nil
}

func TestEnsureMilvusCreatesOnce(t *testing.T) {
	f := newFakeMilvus()
	opts := DefaultOptions("docs", 4)

	first, created, err := EnsureMilvus(context.Background(), f, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !created || first.Dimension() != 4 {
		t.Fatalf("expected created collection of dim 4, got created=%v dim=%d", created, first.Dimension())
	}
	if f.indexType != entity.HNSW {
		t.Fatalf("expected HNSW index, got %s", f.indexType)
	}

	second, created, err := EnsureMilvus(context.Background(), f, opts)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second call must not recreate the collection")
	}
	if f.creates != 1 || f.indexes != 1 {
		t.Fatalf("expected one create and one index, got %d/%d", f.creates, f.indexes)
	}
	if second.Dimension() != 4 || f.loads != 2 {
		t.Fatalf("unexpected second handle dim=%d loads=%d", second.Dimension(), f.loads)
	}
}

func TestEnsureMilvusAdoptsExistingDimension(t *testing.T) {
	f := newFakeMilvus()
	if _, _, err := EnsureMilvus(context.Background(), f, DefaultOptions("docs", 768)); err != nil {
		t.Fatal(err)
	}
	m, _, err := EnsureMilvus(context.Background(), f, DefaultOptions("docs", 1024))
	if err != nil {
		t.Fatal(err)
	}
	if m.Dimension() != 768 {
		t.Fatalf("expected existing dim 768, got %d", m.Dimension())
	}
}

func TestMilvusSchemaFields(t *testing.T) {
	s := milvusSchema(DefaultOptions("docs", 1024))
	want := map[string]entity.FieldType{
		FieldID:         entity.FieldTypeInt64,
		FieldEmbedding:  entity.FieldTypeFloatVector,
		FieldText:       entity.FieldTypeVarChar,
		FieldDocKey:     entity.FieldTypeVarChar,
		FieldChunkIndex: entity.FieldTypeInt64,
	}
	if len(s.Fields) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(s.Fields))
	}
	for _, f := range s.Fields {
		if want[f.Name] != f.DataType {
			t.Errorf("field %s: unexpected type %v", f.Name, f.DataType)
		}
		if f.Name == FieldID && (!f.PrimaryKey || !f.AutoID) {
			t.Error("id must be an auto primary key")
		}
	}
	dim, err := schemaDim(s)
	if err != nil || dim != 1024 {
		t.Fatalf("expected dim 1024, got %d (%v)", dim, err)
	}
}

func TestMilvusInsertThenSearchRoundTrip(t *testing.T) {
	f := newFakeMilvus()
	m, _, err := EnsureMilvus(context.Background(), f, DefaultOptions("docs", 3))
	if err != nil {
		t.Fatal(err)
	}

	rows := []Row{
		{Chunk: domain.Chunk{Text: "alpha", Index: 0, Source: "a.pdf"}, Embedding: []float32{1, 0, 0}},
		{Chunk: domain.Chunk{Text: "beta", Index: 1, Source: "a.pdf"}, Embedding: []float32{0, 1, 0}},
		{Chunk: domain.Chunk{Text: "gamma", Index: 2, Source: "a.pdf"}, Embedding: []float32{0, 0, 1}},
	}
	if err := m.Insert(context.Background(), rows); err != nil {
		t.Fatal(err)
	}
	if got := f.rows["docs"]; len(got) != 3 || got[2].idx != 2 || got[1].key != "a.pdf" {
		t.Fatalf("unexpected stored rows %+v", got)
	}

	matches, err := m.Search(context.Background(), []float32{0, 1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 || matches[0].Text != "beta" || matches[0].Distance != 0 {
		t.Fatalf("unexpected matches %+v", matches)
	}
	if f.lastTopK != 5 || len(f.lastOutputs) != 1 || f.lastOutputs[0] != FieldText {
		t.Fatalf("unexpected search call topK=%d outputs=%v", f.lastTopK, f.lastOutputs)
	}
}

func TestMilvusInsertDimensionMismatchInsertsNothing(t *testing.T) {
	f := newFakeMilvus()
	m, _, _ := EnsureMilvus(context.Background(), f, DefaultOptions("docs", 3))

	err := m.Insert(context.Background(), []Row{
		{Chunk: domain.Chunk{Text: "ok"}, Embedding: []float32{1, 2, 3}},
		{Chunk: domain.Chunk{Text: "bad"}, Embedding: []float32{1, 2}},
	})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if len(f.rows["docs"]) != 0 {
		t.Fatal("no rows should be inserted")
	}
	if _, err := m.Search(context.Background(), []float32{1}, 5); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestBootstrapMilvusRetries(t *testing.T) {
	f := newFakeMilvus()
	dials := 0
	dial := func(ctx context.Context) (MilvusClient, error) {
		dials++
		if dials < 3 {
			return nil, errors.New("connection refused")
		}
		return f, nil
	}

	m, err := BootstrapMilvus(context.Background(), dial, DefaultOptions("docs", 4), fn.FixedRetry(5, 0), nil)
	if err != nil {
		t.Fatal(err)
	}
	if dials != 3 || m.Dimension() != 4 {
		t.Fatalf("expected 3 dials, got %d", dials)
	}
}

func TestBootstrapMilvusExhausts(t *testing.T) {
	dials := 0
	dial := func(ctx context.Context) (MilvusClient, error) {
		dials++
		return nil, errors.New("connection refused")
	}
	if _, err := BootstrapMilvus(context.Background(), dial, DefaultOptions("docs", 4), fn.FixedRetry(5, 0), nil); err == nil {
		t.Fatal("expected error after retries")
	}
	if dials != 5 {
		t.Fatalf("expected 5 attempts, got %d", dials)
	}
}

func TestBootstrapMilvusClosesFailedClient(t *testing.T) {
	f := newFakeMilvus()
	f.hasErr = errors.New("not ready")
	dial := func(ctx context.Context) (MilvusClient, error) { return f, nil }

	if _, err := BootstrapMilvus(context.Background(), dial, DefaultOptions("docs", 4), fn.FixedRetry(2, 0), nil); err == nil {
		t.Fatal("expected error")
	}
	if !f.closed {
		t.Fatal("failed client should be closed")
	}
}

func TestBootstrapMilvusRecoversMissingIndex(t *testing.T) {
	f := newFakeMilvus()
	f.indexFails = 1
	dial := func(ctx context.Context) (MilvusClient, error) { return f, nil }

	m, err := BootstrapMilvus(context.Background(), dial, DefaultOptions("docs", 4), fn.FixedRetry(5, 0), nil)
	if err != nil {
		t.Fatalf("expected the second attempt to build the index, got %v", err)
	}
	if f.creates != 1 || f.indexes != 2 || !f.indexed["docs"] {
		t.Fatalf("expected 1 create and 2 index attempts, got %d/%d", f.creates, f.indexes)
	}
	if m.Dimension() != 4 || f.indexType != entity.HNSW {
		t.Fatalf("unexpected store dim=%d index=%s", m.Dimension(), f.indexType)
	}
}

// legacySchema has a short doc_key and no chunk_index field.
func legacySchema() *entity.Schema {
	return entity.NewSchema().
		WithName("docs").
		WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeInt64).
			WithIsPrimaryKey(true).WithIsAutoID(true)).
		WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(768)).
		WithField(entity.NewField().WithName(FieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(FieldDocKey).WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
}

func TestEnsureMilvusRejectsIncompatibleSchema(t *testing.T) {
	f := newFakeMilvus()
	f.schemas["docs"] = legacySchema()

	_, _, err := EnsureMilvus(context.Background(), f, DefaultOptions("docs", 768))
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	if f.indexes != 0 || f.loads != 0 {
		t.Fatal("incompatible collection must not be indexed or loaded")
	}
}

func TestCheckSchemaShortDocKey(t *testing.T) {
	s := legacySchema().WithField(entity.NewField().WithName(FieldChunkIndex).WithDataType(entity.FieldTypeInt64))
	err := checkSchema(s)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch for max_length 255, got %v", err)
	}
	if err := checkSchema(milvusSchema(DefaultOptions("docs", 8))); err != nil {
		t.Fatalf("own schema should pass, got %v", err)
	}
}

func TestBootstrapMilvusSchemaMismatchNotRetried(t *testing.T) {
	f := newFakeMilvus()
	f.schemas["docs"] = legacySchema()
	dials := 0
	dial := func(ctx context.Context) (MilvusClient, error) {
		dials++
		return f, nil
	}

	_, err := BootstrapMilvus(context.Background(), dial, DefaultOptions("docs", 768), fn.FixedRetry(5, 0), nil)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	if dials != 1 {
		t.Fatalf("schema mismatch should not be retried, got %d dials", dials)
	}
}
