package worker

import "strings"

// keyPos describes where key arguments sit in a command's argv:
// positions [FirstKey, LastKey] stepping by Step. LastKey == -1 means
// "to the end of argv" (variadic commands like MSET/DEL).
type keyPos struct {
	First int
	Last  int
	Step  int
}

// keyTable is the static command-name -> key-position table used to
// extract the key(s) an arbitrary command touches, for cluster slot
// routing and standalone lane selection. Unknown commands fall back to
// the dispatcher's default lane (see defaultLane), which is fixed, not
// configurable.
var keyTable = map[string]keyPos{
	"GET": {1, 1, 1}, "SET": {1, 1, 1}, "SETEX": {1, 1, 1}, "PSETEX": {1, 1, 1},
	"SETNX": {1, 1, 1}, "GETSET": {1, 1, 1}, "GETDEL": {1, 1, 1}, "APPEND": {1, 1, 1},
	"STRLEN": {1, 1, 1}, "INCR": {1, 1, 1}, "DECR": {1, 1, 1}, "INCRBY": {1, 1, 1},
	"DECRBY": {1, 1, 1}, "INCRBYFLOAT": {1, 1, 1},
	"EXPIRE": {1, 1, 1}, "PEXPIRE": {1, 1, 1}, "EXPIREAT": {1, 1, 1}, "PEXPIREAT": {1, 1, 1},
	"PERSIST": {1, 1, 1}, "TTL": {1, 1, 1}, "PTTL": {1, 1, 1}, "TYPE": {1, 1, 1},
	"DUMP": {1, 1, 1}, "RESTORE": {1, 1, 1},

	"DEL": {1, -1, 1}, "UNLINK": {1, -1, 1}, "EXISTS": {1, -1, 1}, "TOUCH": {1, -1, 1},
	"MGET": {1, -1, 1},
	"MSET": {1, -1, 2}, "MSETNX": {1, -1, 2},

	"HSET": {1, 1, 1}, "HSETNX": {1, 1, 1}, "HGET": {1, 1, 1}, "HDEL": {1, 1, 1},
	"HGETALL": {1, 1, 1}, "HMSET": {1, 1, 1}, "HMGET": {1, 1, 1}, "HINCRBY": {1, 1, 1},
	"HINCRBYFLOAT": {1, 1, 1}, "HLEN": {1, 1, 1}, "HEXISTS": {1, 1, 1}, "HKEYS": {1, 1, 1},
	"HVALS": {1, 1, 1}, "HSCAN": {1, 1, 1},

	"LPUSH": {1, 1, 1}, "RPUSH": {1, 1, 1}, "LPOP": {1, 1, 1}, "RPOP": {1, 1, 1},
	"LLEN": {1, 1, 1}, "LRANGE": {1, 1, 1}, "LREM": {1, 1, 1}, "LSET": {1, 1, 1},
	"LINSERT": {1, 1, 1}, "LTRIM": {1, 1, 1}, "LINDEX": {1, 1, 1},

	"SADD": {1, 1, 1}, "SREM": {1, 1, 1}, "SMEMBERS": {1, 1, 1}, "SCARD": {1, 1, 1},
	"SISMEMBER": {1, 1, 1}, "SPOP": {1, 1, 1}, "SRANDMEMBER": {1, 1, 1}, "SSCAN": {1, 1, 1},

	"ZADD": {1, 1, 1}, "ZREM": {1, 1, 1}, "ZSCORE": {1, 1, 1}, "ZCARD": {1, 1, 1},
	"ZRANGE": {1, 1, 1}, "ZREVRANGE": {1, 1, 1}, "ZRANGEBYSCORE": {1, 1, 1},
	"ZINCRBY": {1, 1, 1}, "ZRANK": {1, 1, 1}, "ZSCAN": {1, 1, 1},

	"XADD": {1, 1, 1}, "XLEN": {1, 1, 1}, "XRANGE": {1, 1, 1}, "XREVRANGE": {1, 1, 1},
	"XTRIM": {1, 1, 1}, "XDEL": {1, 1, 1},

	"PFADD": {1, 1, 1}, "PFCOUNT": {1, -1, 1}, "PFMERGE": {1, -1, 1},
	"GEOADD": {1, 1, 1}, "GEOPOS": {1, 1, 1}, "GEODIST": {1, 1, 1},

	"EVAL": {3, -1, 1}, "EVALSHA": {3, -1, 1},
}

// ExtractKeys returns the key(s) touched by argv (a full command
// including its name at argv[0]) according to keyTable. It returns nil
// if the command is unknown or takes no keys (e.g. PING, INFO), which
// the dispatcher routes to its fixed default lane.
func ExtractKeys(argv [][]byte) [][]byte {
	if len(argv) == 0 {
		return nil
	}
	pos, ok := keyTable[strings.ToUpper(string(argv[0]))]
	if !ok {
		return nil
	}
	last := pos.Last
	if last < 0 || last >= len(argv) {
		last = len(argv) - 1
	}
	var keys [][]byte
	for i := pos.First; i <= last && i < len(argv); i += pos.Step {
		keys = append(keys, argv[i])
	}
	return keys
}
