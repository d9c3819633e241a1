package pool

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"df2redis/internal/endpoint"
)

func testConf(addr string) endpoint.Conf {
	return endpoint.Conf{Addr: addr, PipeBudget: -1, ConnectTimeout: 2 * time.Second}
}

func TestOpenRejectsNonPositiveLanes(t *testing.T) {
	srv := miniredis.RunT(t)
	if _, err := Open(context.Background(), 0, testConf(srv.Addr())); err == nil {
		t.Fatal("Open: expected error for 0 lanes, got nil")
	}
}

func TestLaneIsStableForSameKey(t *testing.T) {
	srv := miniredis.RunT(t)
	p, err := Open(context.Background(), 4, testConf(srv.Addr()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	_, idx1 := p.Lane([]byte("some-key"))
	_, idx2 := p.Lane([]byte("some-key"))
	if idx1 != idx2 {
		t.Errorf("Lane(%q) returned %d then %d, want stable index", "some-key", idx1, idx2)
	}
	if idx1 < 0 || idx1 >= 4 {
		t.Errorf("Lane index %d out of [0,4)", idx1)
	}
}

func TestEndpointAtStandalone(t *testing.T) {
	srv := miniredis.RunT(t)
	p, err := Open(context.Background(), 2, testConf(srv.Addr()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	if _, err := p.EndpointAt("", 0); err != nil {
		t.Errorf("EndpointAt(\"\",0): %v", err)
	}
	if _, err := p.EndpointAt("", 5); err == nil {
		t.Error("EndpointAt(\"\",5): expected out-of-range error, got nil")
	}
}

func TestReopenReplacesEndpoint(t *testing.T) {
	srv := miniredis.RunT(t)
	p, err := Open(context.Background(), 1, testConf(srv.Addr()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	before, _ := p.Lane([]byte("k"))
	fresh, err := p.Reopen(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	after, _ := p.Lane([]byte("k"))
	if after != fresh {
		t.Error("Lane must return the freshly reopened endpoint after Reopen")
	}
	if after == before {
		t.Error("Reopen must install a different *Endpoint instance")
	}
}

func TestAllEndpointsCoversEveryLane(t *testing.T) {
	srv := miniredis.RunT(t)
	p, err := Open(context.Background(), 3, testConf(srv.Addr()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	if got := len(p.AllEndpoints()); got != 3 {
		t.Errorf("len(AllEndpoints()) = %d, want 3", got)
	}
}

func TestIsClusterFalseForStandalone(t *testing.T) {
	srv := miniredis.RunT(t)
	p, err := Open(context.Background(), 1, testConf(srv.Addr()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	if p.IsCluster() {
		t.Error("IsCluster() should be false for a standalone pool")
	}
	if p.Lanes() != 1 {
		t.Errorf("Lanes() = %d, want 1", p.Lanes())
	}
}
