package worker

import (
	"context"
	"encoding/binary"
	"hash/crc64"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"df2redis/internal/endpoint"
	"df2redis/internal/event"
	"df2redis/internal/pool"
)

// jonesTable is Redis's CRC-64 variant, matching internal/rdbsource's
// own table; duplicated here since that table is unexported and dump
// payload assembly is a production concern, not a test helper to share.
var jonesTable = crc64.MakeTable(0x95ac9329ac4bc9b5)

// sliceSource replays a fixed slice of events, then io.EOF, implementing
// event.Source for tests that don't need a real RDB/replication feed.
type sliceSource struct {
	evs []event.Event
	i   int
}

func (s *sliceSource) Next() (event.Event, error) {
	if s.i >= len(s.evs) {
		return event.Event{}, io.EOF
	}
	ev := s.evs[s.i]
	s.i++
	return ev, nil
}

func (s *sliceSource) Close() error { return nil }

func newTestPool(t *testing.T, addr string, lanes int) *pool.Pool {
	t.Helper()
	p, err := pool.Open(context.Background(), lanes, endpoint.Conf{
		Addr:           addr,
		DB:             0,
		PipeBudget:     1,
		ConnectTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("pool.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// dumpPayload builds a RESTORE-compatible DUMP payload for a short
// string value the same way internal/rdbsource assembles one: type
// byte (string) + a 6-bit-length-prefixed raw string + little-endian
// RDB version + CRC64 over everything preceding it.
func dumpPayload(value string) []byte {
	const typeString = 0
	const rdbVersion = 11
	out := []byte{typeString, byte(len(value))}
	out = append(out, []byte(value)...)
	var ver [2]byte
	binary.LittleEndian.PutUint16(ver[:], rdbVersion)
	out = append(out, ver[:]...)
	sum := ^crc64.Update(^uint64(0), jonesTable, out)
	var crc [8]byte
	binary.LittleEndian.PutUint64(crc[:], sum)
	return append(out, crc[:]...)
}

func TestDispatcherAppliesKeyValueEvents(t *testing.T) {
	srv := miniredis.RunT(t)
	p := newTestPool(t, srv.Addr(), 2)

	src := &sliceSource{evs: []event.Event{
		{Kind: event.KindBeginRDB},
		{Kind: event.KindKeyValue, DB: 0, Key: []byte("foo"), Type: "string", Payload: dumpPayload("bar")},
		{Kind: event.KindKeyValue, DB: 0, Key: []byte("baz"), Type: "string", Payload: dumpPayload("qux")},
		{Kind: event.KindEndRDB},
	}}

	d, err := New(Config{Replace: ReplaceOn, BatchSize: 1}, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got, _ := srv.Get("foo"); got != "bar" {
		t.Errorf("foo = %q, want bar", got)
	}
	if got, _ := srv.Get("baz"); got != "qux" {
		t.Errorf("baz = %q, want qux", got)
	}
}

func TestDispatcherDryRunAppliesNothing(t *testing.T) {
	srv := miniredis.RunT(t)
	p := newTestPool(t, srv.Addr(), 1)

	src := &sliceSource{evs: []event.Event{
		{Kind: event.KindBeginRDB},
		{Kind: event.KindKeyValue, DB: 0, Key: []byte("foo"), Type: "string", Payload: dumpPayload("bar")},
		{Kind: event.KindEndRDB},
	}}

	d, err := New(Config{Replace: ReplaceOn, BatchSize: 1, DryRun: true}, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if srv.Exists("foo") {
		t.Error("dry run must not write foo to the target")
	}
}

func TestDispatcherFilterDropsNonMatchingDB(t *testing.T) {
	srv := miniredis.RunT(t)
	p := newTestPool(t, srv.Addr(), 1)

	src := &sliceSource{evs: []event.Event{
		{Kind: event.KindBeginRDB},
		{Kind: event.KindKeyValue, DB: 1, Key: []byte("other-db"), Type: "string", Payload: dumpPayload("v")},
		{Kind: event.KindKeyValue, DB: 0, Key: []byte("same-db"), Type: "string", Payload: dumpPayload("v")},
		{Kind: event.KindEndRDB},
	}}

	d, err := New(Config{
		Replace: ReplaceOn,
		Filter:  event.NewFilter([]int{0}, nil, nil),
	}, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if srv.Exists("other-db") {
		t.Error("event filtered out by db must not reach the target")
	}
	if !srv.Exists("same-db") {
		t.Error("event matching the db filter should reach the target")
	}
}
