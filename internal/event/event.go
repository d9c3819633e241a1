// Package event defines the tagged-union stream that flows from a
// source (RDB file, live replication link) through the filter and
// router into the endpoint workers.
package event

import "fmt"

// Kind distinguishes the variants of Event.
type Kind int

const (
	// KindBeginRDB marks the start of a full-snapshot stream.
	KindBeginRDB Kind = iota
	// KindKeyValue carries one key's DUMP-compatible payload.
	KindKeyValue
	// KindCommand carries a single write command observed on a
	// replication link (argv form, RESP multi-bulk).
	KindCommand
	// KindStreamCommand carries a command from a replication stream; it
	// is routed exactly like KindCommand, to the single lane its keys select.
	KindStreamCommand
	// KindEndRDB marks the end of a full-snapshot stream.
	KindEndRDB
)

func (k Kind) String() string {
	switch k {
	case KindBeginRDB:
		return "BeginRDB"
	case KindKeyValue:
		return "KeyValue"
	case KindCommand:
		return "Command"
	case KindStreamCommand:
		return "StreamCommand"
	case KindEndRDB:
		return "EndRDB"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is the single type flowing through source -> filter -> router
// -> worker. Only the fields relevant to Kind are populated; the rest
// are left at their zero value.
type Event struct {
	Kind Kind

	// DB is the source database index. Populated for KeyValue, Command
	// and StreamCommand.
	DB int

	// Key is the raw key bytes. Populated for KeyValue, Command and
	// StreamCommand (the first key argument the command touches).
	Key []byte

	// Type is the canonical data-type tag ("string", "list", "hash",
	// "set", "zset", "stream", "module"). Populated for KeyValue.
	Type string

	// ExpireAtMs is the absolute source-side expiry, Unix epoch
	// milliseconds, or 0 if the key carries no TTL. Populated for
	// KeyValue. Relative TTL for RESTORE is computed at dispatch time,
	// not here, since real delay accrues between decode and apply.
	ExpireAtMs int64

	// Payload is the DUMP-compatible serialized value. Populated for
	// KeyValue.
	Payload []byte

	// Argv is the command in multi-bulk argument form. Populated for
	// Command and StreamCommand.
	Argv [][]byte
}

// Source is a blocking pull-based producer of Events.
type Source interface {
	// Next returns the next event in the stream, or io.EOF once the
	// source is exhausted (after emitting EndRDB for a snapshot
	// source).
	Next() (Event, error)
	// Close releases resources held by the source.
	Close() error
}
