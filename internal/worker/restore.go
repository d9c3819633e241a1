package worker

// ReplaceMode selects how KeyValue events are written when the target
// key may already exist.
type ReplaceMode int

const (
	// ReplaceOff emits a plain RESTORE; a BUSYKEY collision surfaces
	// as an endpoint failure with no automatic recovery. The default,
	// since it never overwrites a pre-existing target key silently.
	ReplaceOff ReplaceMode = iota
	// ReplaceOn emits RESTORE ... REPLACE.
	ReplaceOn
	// ReplaceFallback sends a plain RESTORE synchronously; on a
	// BUSYKEY reply the worker issues DEL followed by a retried
	// RESTORE against that same key.
	ReplaceFallback
	// ReplaceLegacy targets servers that predate RESTORE REPLACE
	// (pre-3.0-style): DEL and RESTORE are performed atomically via a
	// known Lua script through EVAL.
	ReplaceLegacy
)

// legacyDelRestoreScript atomically deletes then restores a key; used
// against targets too old to support `RESTORE ... REPLACE`.
const legacyDelRestoreScript = `
redis.call('DEL', KEYS[1])
return redis.call('RESTORE', KEYS[1], ARGV[1], ARGV[2])
`

// relativeTTLMillis converts an absolute source-side expiry (Unix
// epoch ms, 0 = none) into the relative millisecond TTL RESTORE
// expects, clamped to 0 if it has already elapsed since the event was
// decoded.
func relativeTTLMillis(expireAtMs int64, nowMs int64) int64 {
	if expireAtMs <= 0 {
		return 0
	}
	rel := expireAtMs - nowMs
	if rel < 0 {
		return 0
	}
	return rel
}
