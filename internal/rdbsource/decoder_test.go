package rdbsource

import (
	"bytes"
	"encoding/binary"
	"hash/crc64"
	"io"
	"testing"

	"df2redis/internal/event"
)

// rdbBuilder assembles a minimal synthetic RDB byte stream for tests,
// writing only the opcodes and encodings the decoder understands.
type rdbBuilder struct {
	buf bytes.Buffer
}

func newRDBBuilder() *rdbBuilder {
	b := &rdbBuilder{}
	b.buf.WriteString("REDIS0011")
	return b
}

func (b *rdbBuilder) selectDB(n int) *rdbBuilder {
	b.buf.WriteByte(opcodeSelectDB)
	b.length(uint64(n))
	return b
}

func (b *rdbBuilder) length(n uint64) {
	if n < 64 {
		b.buf.WriteByte(byte(n))
		return
	}
	panic("test helper only supports 6-bit lengths")
}

func (b *rdbBuilder) rawString(s string) {
	b.length(uint64(len(s)))
	b.buf.WriteString(s)
}

func (b *rdbBuilder) stringKey(key, value string) *rdbBuilder {
	b.buf.WriteByte(typeString)
	b.rawString(key)
	b.rawString(value)
	return b
}

func (b *rdbBuilder) listKey(key string, elems ...string) *rdbBuilder {
	b.buf.WriteByte(typeList)
	b.rawString(key)
	b.length(uint64(len(elems)))
	for _, e := range elems {
		b.rawString(e)
	}
	return b
}

func (b *rdbBuilder) streamKey(key string) *rdbBuilder {
	b.buf.WriteByte(typeStreamListpacks)
	b.rawString(key)
	b.rawString("unused")
	return b
}

func (b *rdbBuilder) finish() []byte {
	b.buf.WriteByte(opcodeEOF)
	var checksum [8]byte
	binary.LittleEndian.PutUint64(checksum[:], crc64.Checksum(b.buf.Bytes(), jonesTable))
	b.buf.Write(checksum[:])
	return b.buf.Bytes()
}

func decodeAll(t *testing.T, raw []byte) []event.Event {
	t.Helper()
	dec, err := Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dec.Close()

	var evs []event.Event
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		evs = append(evs, ev)
	}
	return evs
}

func TestDecoderStreamShape(t *testing.T) {
	raw := newRDBBuilder().selectDB(0).stringKey("foo", "bar").finish()
	evs := decodeAll(t, raw)

	if len(evs) != 3 {
		t.Fatalf("expected BeginRDB, KeyValue, EndRDB; got %d events", len(evs))
	}
	if evs[0].Kind != event.KindBeginRDB {
		t.Errorf("first event = %s, want BeginRDB", evs[0].Kind)
	}
	if evs[1].Kind != event.KindKeyValue {
		t.Errorf("second event = %s, want KeyValue", evs[1].Kind)
	}
	if evs[2].Kind != event.KindEndRDB {
		t.Errorf("third event = %s, want EndRDB", evs[2].Kind)
	}
}

func TestDecoderStringKeyValueAndPayload(t *testing.T) {
	raw := newRDBBuilder().selectDB(0).stringKey("foo", "bar").finish()
	evs := decodeAll(t, raw)

	kv := evs[1]
	if string(kv.Key) != "foo" {
		t.Errorf("key = %q, want foo", kv.Key)
	}
	if kv.Type != "string" {
		t.Errorf("type = %q, want string", kv.Type)
	}
	if kv.DB != 0 {
		t.Errorf("db = %d, want 0", kv.DB)
	}

	// The assembled DUMP payload must itself satisfy assembleDump's own
	// invariant: type byte + raw bytes + 2-byte version + 8-byte CRC64,
	// with the CRC64 computed over everything preceding it.
	payload := kv.Payload
	if len(payload) < 1+2+8 {
		t.Fatalf("payload too short: %d bytes", len(payload))
	}
	body := payload[:len(payload)-8]
	gotCRC := binary.LittleEndian.Uint64(payload[len(payload)-8:])
	wantCRC := redisCRC64(body)
	if gotCRC != wantCRC {
		t.Errorf("dump payload CRC64 = %x, want %x", gotCRC, wantCRC)
	}
	if payload[0] != typeString {
		t.Errorf("dump payload type byte = %d, want %d", payload[0], typeString)
	}
}

func TestDecoderListKey(t *testing.T) {
	raw := newRDBBuilder().selectDB(0).listKey("mylist", "a", "b", "c").finish()
	evs := decodeAll(t, raw)

	kv := evs[1]
	if string(kv.Key) != "mylist" {
		t.Errorf("key = %q, want mylist", kv.Key)
	}
	if kv.Type != "list" {
		t.Errorf("type = %q, want list", kv.Type)
	}
}

func TestDecoderSelectDBCarriesAcrossKeys(t *testing.T) {
	raw := newRDBBuilder().
		selectDB(2).
		stringKey("a", "1").
		stringKey("b", "2").
		finish()
	evs := decodeAll(t, raw)

	for _, ev := range evs {
		if ev.Kind != event.KindKeyValue {
			continue
		}
		if ev.DB != 2 {
			t.Errorf("key %q: db = %d, want 2", ev.Key, ev.DB)
		}
	}
}

func TestDecoderRejectsUnsupportedType(t *testing.T) {
	raw := newRDBBuilder().selectDB(0).streamKey("s").finish()
	dec, err := Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dec.Close()

	if _, err := dec.Next(); err != nil { // BeginRDB
		t.Fatalf("Next (BeginRDB): %v", err)
	}
	if _, err := dec.Next(); err == nil {
		t.Fatal("expected an error decoding a stream-typed key, got nil")
	}
}

func TestOpenRejectsNonRDBStream(t *testing.T) {
	if _, err := Open(bytes.NewReader([]byte("not an rdb file at all"))); err == nil {
		t.Fatal("expected an error for a non-RDB stream, got nil")
	}
}
