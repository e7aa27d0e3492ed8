package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/aviov/largo-chat/pkg/config"
	"github.com/aviov/largo-chat/pkg/fn"
)

func TestInspectMilvusMissing(t *testing.T) {
	f := newFakeMilvus()
	info, err := InspectMilvus(context.Background(), f, "docs")
	if err != nil {
		t.Fatal(err)
	}
	if info.Exists || info.Dimension != 0 || info.Backend != config.BackendMilvus {
		t.Fatalf("info = %+v", info)
	}
	if f.creates != 0 || f.loads != 0 {
		t.Fatal("inspect must not create or load")
	}
}

func TestInspectMilvusExisting(t *testing.T) {
	f := newFakeMilvus()
	if _, _, err := EnsureMilvus(context.Background(), f, DefaultOptions("docs", 384)); err != nil {
		t.Fatal(err)
	}
	info, err := InspectMilvus(context.Background(), f, "docs")
	if err != nil {
		t.Fatal(err)
	}
	if !info.Exists || info.Dimension != 384 || info.Schema != "" {
		t.Fatalf("info = %+v", info)
	}
}

func TestInspectMilvusReportsSchemaMismatch(t *testing.T) {
	f := newFakeMilvus()
	f.schemas["docs"] = legacySchema()
	info, err := InspectMilvus(context.Background(), f, "docs")
	if err != nil {
		t.Fatal(err)
	}
	if !info.Exists || info.Dimension != 768 || info.Schema == "" {
		t.Fatalf("info = %+v", info)
	}
}

func TestInspectMilvusRetriesAndCloses(t *testing.T) {
	f := newFakeMilvus()
	dials := 0
	dial := func(context.Context) (MilvusClient, error) {
		dials++
		if dials == 1 {
			return nil, errors.New("connection refused")
		}
		return f, nil
	}
	info, err := inspectMilvus(context.Background(), dial, "docs", fn.FixedRetry(3, 0))
	if err != nil {
		t.Fatal(err)
	}
	if dials != 2 || info.Exists {
		t.Fatalf("dials = %d, info = %+v", dials, info)
	}
	if !f.closed {
		t.Fatal("inspect connection left open")
	}
}

func TestInspectUnknownBackend(t *testing.T) {
	if _, err := Inspect(context.Background(), config.Config{VectorBackend: "redis"}, fn.FixedRetry(1, 0), nil); err == nil {
		t.Fatal("expected error")
	}
}
