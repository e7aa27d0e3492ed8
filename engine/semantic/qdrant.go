package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aviov/largo-chat/engine/domain"
)

// pointsAPI is the subset of pb.PointsClient used here.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient used here.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// chunkNamespace seeds deterministic point ids so re-ingesting a document
// overwrites its chunks.
var chunkNamespace = uuid.MustParse("6f1c3c52-8f0e-4c57-9a8e-6b1f4f3f7d21")

// Qdrant is a Store backed by a Qdrant collection over gRPC.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	opts        Options
}

// DialQdrant opens a gRPC connection to addr. It does not touch the collection.
func DialQdrant(addr string, opts Options) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		opts:        opts,
	}, nil
}

func newQdrantWithClients(points pointsAPI, collections collectionsAPI, opts Options) *Qdrant {
	return &Qdrant{points: points, collections: collections, opts: opts}
}

// Ensure creates the collection when absent, otherwise adopts the existing
// collection's vector size. It reports whether the collection was created.
func (q *Qdrant) Ensure(ctx context.Context) (bool, error) {
	size, exists, err := q.lookup(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		q.opts.Dimension = size
		return false, nil
	}

	m := uint64(q.opts.M)
	ef := uint64(q.opts.EfConstruction)
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.opts.Collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.opts.Dimension),
					Distance: pb.Distance_Euclid,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{M: &m, EfConstruct: &ef},
	})
	if err != nil {
		return false, fmt.Errorf("semantic: create collection %s: %w", q.opts.Collection, err)
	}
	return true, nil
}

// lookup returns the vector size of the collection if it exists.
func (q *Qdrant) lookup(ctx context.Context) (int, bool, error) {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return 0, false, fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() != q.opts.Collection {
			continue
		}
		info, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: q.opts.Collection})
		if err != nil {
			return 0, false, fmt.Errorf("semantic: get collection %s: %w", q.opts.Collection, err)
		}
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size == 0 {
			return 0, false, fmt.Errorf("semantic: collection %s has no single vector config", q.opts.Collection)
		}
		return int(size), true, nil
	}
	return 0, false, nil
}

// Dimension returns the collection's vector length.
func (q *Qdrant) Dimension() int { return q.opts.Dimension }

// Close closes the gRPC connection.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// Insert upserts rows as points keyed by document and chunk index.
func (q *Qdrant) Insert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := checkRows(rows, q.opts.Dimension); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(rows))
	for i, r := range rows {
		id := uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", r.Chunk.Source, r.Chunk.Index)))
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}},
			},
			Payload: map[string]*pb.Value{
				FieldText:       {Kind: &pb.Value_StringValue{StringValue: r.Chunk.Text}},
				FieldDocKey:     {Kind: &pb.Value_StringValue{StringValue: r.Chunk.Source}},
				FieldChunkIndex: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.Chunk.Index)}},
			},
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.opts.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(rows), err)
	}
	return nil
}

// Search returns the topK nearest chunk texts. Qdrant reports the Euclidean
// distance as the score for this metric.
func (q *Qdrant) Search(ctx context.Context, vec []float32, topK int) ([]domain.Match, error) {
	if err := checkQuery(vec, q.opts.Dimension); err != nil {
		return nil, err
	}
	ef := uint64(max(q.opts.EfSearch, topK))
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.opts.Collection,
		Vector:         vec,
		Limit:          uint64(topK),
		Params:         &pb.SearchParams{HnswEf: &ef},
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: []string{FieldText}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	matches := make([]domain.Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		matches[i] = domain.Match{
			Text:     r.GetPayload()[FieldText].GetStringValue(),
			Distance: r.GetScore(),
		}
	}
	return matches, nil
}
