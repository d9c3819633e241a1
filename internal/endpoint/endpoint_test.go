package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func openTestEndpoint(t *testing.T, srv *miniredis.Miniredis, conf Conf) *Endpoint {
	t.Helper()
	conf.Addr = srv.Addr()
	if conf.ConnectTimeout <= 0 {
		conf.ConnectTimeout = 2 * time.Second
	}
	ep, err := Open(context.Background(), conf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ep.Close() })
	return ep
}

func TestSendIsSynchronous(t *testing.T) {
	srv := miniredis.RunT(t)
	ep := openTestEndpoint(t, srv, Conf{PipeBudget: -1})

	if _, err := ep.Send("SET", "foo", "bar"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ep.Inflight() != 0 {
		t.Errorf("Inflight() = %d after Send, want 0", ep.Inflight())
	}
	got, err := srv.Get("foo")
	if err != nil || got != "bar" {
		t.Errorf("foo = %q, %v, want bar", got, err)
	}
}

func TestSendDrainsPriorBatchFirst(t *testing.T) {
	srv := miniredis.RunT(t)
	ep := openTestEndpoint(t, srv, Conf{PipeBudget: -1})

	if err := ep.Batch(false, "SET", "a", "1"); err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if ep.Inflight() != 1 {
		t.Fatalf("Inflight() = %d, want 1", ep.Inflight())
	}
	// Send must flush+read the batched SET before sending/reading GET,
	// or the replies would desync.
	reply, err := ep.Send("GET", "a")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "1" {
		t.Errorf("GET a = %v, want 1", reply)
	}
	if ep.Inflight() != 0 {
		t.Errorf("Inflight() = %d after Send, want 0", ep.Inflight())
	}
}

func TestBatchAutoFlushesAtPipeBudget(t *testing.T) {
	srv := miniredis.RunT(t)
	ep := openTestEndpoint(t, srv, Conf{PipeBudget: 2})

	if err := ep.Batch(false, "SET", "a", "1"); err != nil {
		t.Fatalf("Batch 1: %v", err)
	}
	if ep.Inflight() != 1 {
		t.Fatalf("Inflight() = %d after 1 command, want 1", ep.Inflight())
	}
	// the 2nd command reaches the budget and triggers an internal Flush.
	if err := ep.Batch(false, "SET", "b", "2"); err != nil {
		t.Fatalf("Batch 2: %v", err)
	}
	if ep.Inflight() != 0 {
		t.Errorf("Inflight() = %d after hitting PipeBudget, want 0 (auto-drained)", ep.Inflight())
	}
	if got, _ := srv.Get("a"); got != "1" {
		t.Errorf("a = %q, want 1", got)
	}
	if got, _ := srv.Get("b"); got != "2" {
		t.Errorf("b = %q, want 2", got)
	}
}

func TestPipeBudgetNegativeOneDisablesCountAutoFlush(t *testing.T) {
	srv := miniredis.RunT(t)
	ep := openTestEndpoint(t, srv, Conf{PipeBudget: -1})

	for i := 0; i < 50; i++ {
		if err := ep.Batch(false, "PING"); err != nil {
			t.Fatalf("Batch %d: %v", i, err)
		}
	}
	if ep.Inflight() != 50 {
		t.Errorf("Inflight() = %d, want 50 (PipeBudget=-1 must never auto-drain by count)", ep.Inflight())
	}
	if _, err := ep.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestByteBudgetAutoFlushes(t *testing.T) {
	srv := miniredis.RunT(t)
	// A single SET a 512-byte-value command exceeds this budget, so the
	// Batch call that appends it must auto-drain.
	ep := openTestEndpoint(t, srv, Conf{PipeBudget: -1, ByteBudget: 64})

	big := make([]byte, 512)
	for i := range big {
		big[i] = 'x'
	}
	if err := ep.Batch(false, "SET", "big", big); err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if ep.Inflight() != 0 {
		t.Errorf("Inflight() = %d after exceeding ByteBudget, want 0 (auto-drained)", ep.Inflight())
	}
	got, err := srv.Get("big")
	if err != nil || len(got) != 512 {
		t.Errorf("big len = %d, err = %v, want 512 bytes", len(got), err)
	}
}

func TestSyncReturnsRepliesInFIFOOrder(t *testing.T) {
	srv := miniredis.RunT(t)
	ep := openTestEndpoint(t, srv, Conf{PipeBudget: -1})

	srv.Set("k1", "v1")
	srv.Set("k2", "v2")
	srv.Set("k3", "v3")

	if err := ep.Batch(false, "GET", "k1"); err != nil {
		t.Fatal(err)
	}
	if err := ep.Batch(false, "GET", "k2"); err != nil {
		t.Fatal(err)
	}
	if err := ep.Batch(false, "GET", "k3"); err != nil {
		t.Fatal(err)
	}

	replies, err := ep.Sync()
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	want := []string{"v1", "v2", "v3"}
	if len(replies) != len(want) {
		t.Fatalf("len(replies) = %d, want %d", len(replies), len(want))
	}
	for i, w := range want {
		if replies[i] != w {
			t.Errorf("replies[%d] = %v, want %s", i, replies[i], w)
		}
	}
	if ep.Inflight() != 0 {
		t.Errorf("Inflight() = %d after Sync, want 0", ep.Inflight())
	}
}

func TestFlushTalliesSuccessesAndFailures(t *testing.T) {
	srv := miniredis.RunT(t)
	ep := openTestEndpoint(t, srv, Conf{PipeBudget: -1})

	srv.Set("str", "value")
	if err := ep.Batch(false, "SET", "ok", "1"); err != nil {
		t.Fatal(err)
	}
	// LPUSH against a string-typed key triggers a WRONGTYPE error reply.
	if err := ep.Batch(false, "LPUSH", "str", "x"); err != nil {
		t.Fatal(err)
	}

	result, err := ep.Flush()
	if err == nil {
		t.Fatal("Flush: expected a *ReplyError for the WRONGTYPE reply, got nil")
	}
	if result.Successes != 1 || result.Failures != 1 {
		t.Errorf("result = %+v, want 1 success and 1 failure", result)
	}
}

func TestSetDBTracksSelectedDB(t *testing.T) {
	srv := miniredis.RunT(t)
	ep := openTestEndpoint(t, srv, Conf{PipeBudget: -1, DB: 0})

	if ep.DB() != 0 {
		t.Fatalf("DB() = %d, want 0", ep.DB())
	}
	ep.SetDB(3)
	if ep.DB() != 3 {
		t.Errorf("DB() = %d after SetDB(3), want 3", ep.DB())
	}
}
