package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/aviov/largo-chat/engine/domain"
)

type mockPoints struct {
	upserted   *pb.UpsertPoints
	upsertErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, nil
}

type mockCollections struct {
	names   []string
	size    uint64
	created *pb.CreateCollection
	listErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (m *mockCollections) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	return &pb.GetCollectionInfoResponse{Result: &pb.CollectionInfo{
		Config: &pb.CollectionConfig{Params: &pb.CollectionParams{
			VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: m.size, Distance: pb.Distance_Euclid},
			}},
		}},
	}}, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	m.names = append(m.names, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func TestQdrantEnsureCreates(t *testing.T) {
	cols := &mockCollections{}
	q := newQdrantWithClients(&mockPoints{}, cols, DefaultOptions("docs", 1024))

	created, err := q.Ensure(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected creation")
	}
	params := cols.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 1024 || params.GetDistance() != pb.Distance_Euclid {
		t.Fatalf("unexpected params %+v", params)
	}
	if cols.created.GetHnswConfig().GetM() != 16 || cols.created.GetHnswConfig().GetEfConstruct() != 200 {
		t.Fatalf("unexpected hnsw config %+v", cols.created.GetHnswConfig())
	}
}

func TestQdrantEnsureExisting(t *testing.T) {
	cols := &mockCollections{names: []string{"docs"}, size: 768}
	q := newQdrantWithClients(&mockPoints{}, cols, DefaultOptions("docs", 1024))

	created, err := q.Ensure(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if created || cols.created != nil {
		t.Fatal("existing collection must not be recreated")
	}
	if q.Dimension() != 768 {
		t.Fatalf("expected dim 768, got %d", q.Dimension())
	}
}

func TestQdrantEnsureListError(t *testing.T) {
	q := newQdrantWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("unavailable")}, DefaultOptions("docs", 4))
	if _, err := q.Ensure(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestQdrantInsertDeterministicIDs(t *testing.T) {
	pts := &mockPoints{}
	q := newQdrantWithClients(pts, &mockCollections{}, DefaultOptions("docs", 2))
	rows := []Row{{Chunk: domain.Chunk{Text: "hello", Index: 3, Source: "a.pdf"}, Embedding: []float32{1, 2}}}

	if err := q.Insert(context.Background(), rows); err != nil {
		t.Fatal(err)
	}
	first := pts.upserted.GetPoints()[0]
	if err := q.Insert(context.Background(), rows); err != nil {
		t.Fatal(err)
	}
	second := pts.upserted.GetPoints()[0]

	if first.GetId().GetUuid() != second.GetId().GetUuid() {
		t.Fatal("same chunk should map to the same point id")
	}
	payload := first.GetPayload()
	if payload[FieldText].GetStringValue() != "hello" || payload[FieldChunkIndex].GetIntegerValue() != 3 {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestQdrantInsertMismatch(t *testing.T) {
	pts := &mockPoints{}
	q := newQdrantWithClients(pts, &mockCollections{}, DefaultOptions("docs", 2))
	err := q.Insert(context.Background(), []Row{{Embedding: []float32{1}}})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if pts.upserted != nil {
		t.Fatal("nothing should be upserted")
	}
}

func TestQdrantSearch(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{Score: 0.1, Payload: map[string]*pb.Value{FieldText: {Kind: &pb.Value_StringValue{StringValue: "near"}}}},
		{Score: 0.9, Payload: map[string]*pb.Value{FieldText: {Kind: &pb.Value_StringValue{StringValue: "far"}}}},
	}}}
	q := newQdrantWithClients(pts, &mockCollections{}, DefaultOptions("docs", 2))

	matches, err := q.Search(context.Background(), []float32{0, 1}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 || matches[0].Text != "near" || matches[1].Distance != 0.9 {
		t.Fatalf("unexpected matches %+v", matches)
	}
	if pts.searchReq.GetLimit() != 5 {
		t.Fatalf("expected limit 5, got %d", pts.searchReq.GetLimit())
	}
}
