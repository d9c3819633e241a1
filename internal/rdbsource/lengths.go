package rdbsource

import (
	"encoding/binary"
	"fmt"
)

// readLength parses the RDB length encoding: the top two bits of the
// first byte select a 6-bit, 14-bit, 32-bit or 64-bit length, or (for
// the high two-bit patterns reserved for special values) flag that what
// follows is a special encoding (an integer or LZF-compressed string)
// rather than a plain length.
func readLength(cr *capReader) (length uint64, special bool, err error) {
	first, err := cr.readByte()
	if err != nil {
		return 0, false, err
	}
	switch (first >> 6) & 0x03 {
	case 0:
		return uint64(first & 0x3F), false, nil
	case 1:
		next, err := cr.readByte()
		if err != nil {
			return 0, false, err
		}
		return (uint64(first&0x3F) << 8) | uint64(next), false, nil
	case 2:
		switch first {
		case 0x80:
			b, err := cr.readN(4)
			if err != nil {
				return 0, false, err
			}
			return uint64(binary.BigEndian.Uint32(b)), false, nil
		case 0x81:
			b, err := cr.readN(8)
			if err != nil {
				return 0, false, err
			}
			return binary.BigEndian.Uint64(b), false, nil
		default:
			return uint64(first & 0x3F), true, nil
		}
	default: // case 3
		return uint64(first & 0x3F), true, nil
	}
}

// skipRawString reads one RDB string in its exact on-wire encoding
// (plain, integer-encoded, or LZF-compressed) without decompressing or
// materializing it, so the caller's capture buffer ends up holding
// precisely the bytes RESTORE expects back. Used only while capturing a
// value payload.
func skipRawString(cr *capReader) error {
	length, special, err := readLength(cr)
	if err != nil {
		return err
	}
	if !special {
		_, err := cr.readN(int(length))
		return err
	}
	switch length {
	case encInt8:
		_, err := cr.readN(1)
		return err
	case encInt16:
		_, err := cr.readN(2)
		return err
	case encInt32:
		_, err := cr.readN(4)
		return err
	case encLZF:
		compLen, _, err := readLength(cr)
		if err != nil {
			return err
		}
		if _, _, err := readLength(cr); err != nil { // original length, unused when skipping
			return err
		}
		_, err = cr.readN(int(compLen))
		return err
	default:
		return fmt.Errorf("rdbsource: unsupported string encoding %d", length)
	}
}

// skipOldDouble consumes a legacy (pre-ZSET_2) RDB double: a one-byte
// length (or 255/254/253 for -inf/+inf/nan) followed by that many ASCII
// digits.
func skipOldDouble(cr *capReader) error {
	b, err := cr.readByte()
	if err != nil {
		return err
	}
	switch b {
	case 255, 254, 253:
		return nil
	default:
		_, err := cr.readN(int(b))
		return err
	}
}

// readStringValue decodes one RDB string into its materialized content,
// decompressing an LZF-encoded payload via golzf. Used only for
// metadata (AUX fields, key names, Dragonfly compressed-blob payloads)
// that the decoder needs to actually inspect rather than forward
// verbatim.
func readStringValue(cr *capReader) ([]byte, error) {
	length, special, err := readLength(cr)
	if err != nil {
		return nil, err
	}
	if !special {
		return cr.readN(int(length))
	}
	switch length {
	case encInt8:
		b, err := cr.readN(1)
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("%d", int8(b[0]))), nil
	case encInt16:
		b, err := cr.readN(2)
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("%d", int16(binary.LittleEndian.Uint16(b)))), nil
	case encInt32:
		b, err := cr.readN(4)
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("%d", int32(binary.LittleEndian.Uint32(b)))), nil
	case encLZF:
		compLen, _, err := readLength(cr)
		if err != nil {
			return nil, err
		}
		origLen, _, err := readLength(cr)
		if err != nil {
			return nil, err
		}
		compressed, err := cr.readN(int(compLen))
		if err != nil {
			return nil, err
		}
		return lzfDecompress(compressed, int(origLen))
	default:
		return nil, fmt.Errorf("rdbsource: unsupported string encoding %d", length)
	}
}
