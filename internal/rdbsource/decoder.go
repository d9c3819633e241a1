package rdbsource

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/time/rate"

	"github.com/klauspost/compress/zstd"

	"df2redis/internal/event"
)

const rdbMagicLen = 9

// Decoder streams key/value pairs out of an RDB byte stream as
// event.Events. It never materializes a value's contents: each
// KeyValue event's Payload is a DUMP-compatible byte string assembled
// directly from the bytes it read, ready for RESTORE.
type Decoder struct {
	cr         *capReader
	savedCR    *bufio.Reader // original stream, retained while inside a decompressed Dragonfly blob
	limiter    *rate.Limiter
	rdbVersion int

	currentDB      int
	pendingExpMs   int64
	begun, ended   bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithRDBVersion overrides the RDB version stamped into assembled DUMP
// payloads (default DefaultRDBVersion).
func WithRDBVersion(v int) Option { return func(d *Decoder) { d.rdbVersion = v } }

// WithRateLimit throttles how fast the decoder reads off the wire,
// guarding a slow target from being overrun by a fast source during a
// bulk snapshot load. The limiter spends one token per opcode read (each
// key's type byte counts as one), not one per byte, so bytesPerSec caps
// opcodes per second.
func WithRateLimit(bytesPerSec int) Option {
	return func(d *Decoder) {
		if bytesPerSec > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
		}
	}
}

// Open reads the 9-byte RDB header, checks its "REDIS" magic (the
// 4-digit version that follows is not checked), and skips
// any leading AUX fields, returning a Decoder ready to stream entries
// via Next.
func Open(r io.Reader, opts ...Option) (*Decoder, error) {
	d := &Decoder{
		cr:         newCapReader(bufio.NewReaderSize(r, 64*1024)),
		rdbVersion: DefaultRDBVersion,
		currentDB:  0,
	}
	for _, opt := range opts {
		opt(d)
	}

	magic, err := d.cr.readN(rdbMagicLen)
	if err != nil {
		return nil, fmt.Errorf("rdbsource: failed to read RDB header: %w", err)
	}
	if string(magic[:5]) != "REDIS" {
		return nil, fmt.Errorf("rdbsource: not an RDB stream (got %q)", magic)
	}

	for {
		b, err := d.cr.peekByte()
		if err != nil {
			return nil, fmt.Errorf("rdbsource: failed to read opcode after header: %w", err)
		}
		if b != opcodeAux {
			break
		}
		d.cr.readByte()
		if _, err := readStringValue(d.cr); err != nil {
			return nil, fmt.Errorf("rdbsource: failed to skip AUX key: %w", err)
		}
		if _, err := readStringValue(d.cr); err != nil {
			return nil, fmt.Errorf("rdbsource: failed to skip AUX value: %w", err)
		}
	}
	return d, nil
}

// Next returns the next event: a single KindBeginRDB first, then one
// KindKeyValue per key, then a single KindEndRDB, then io.EOF.
func (d *Decoder) Next() (event.Event, error) {
	if !d.begun {
		d.begun = true
		return event.Event{Kind: event.KindBeginRDB}, nil
	}
	if d.ended {
		return event.Event{}, io.EOF
	}

	for {
		if d.limiter != nil {
			if delay := d.limiter.ReserveN(time.Now(), 1).Delay(); delay > 0 {
				time.Sleep(delay)
			}
		}
		opcode, err := d.cr.readByte()
		if err != nil {
			return event.Event{}, fmt.Errorf("rdbsource: failed to read opcode: %w", err)
		}

		switch opcode {
		case opcodeExpireTimeMs:
			b, err := d.cr.readN(8)
			if err != nil {
				return event.Event{}, err
			}
			d.pendingExpMs = int64(binary.LittleEndian.Uint64(b))
			continue

		case opcodeExpireTime:
			b, err := d.cr.readN(4)
			if err != nil {
				return event.Event{}, err
			}
			d.pendingExpMs = int64(binary.LittleEndian.Uint32(b)) * 1000
			continue

		case opcodeSelectDB:
			n, _, err := readLength(d.cr)
			if err != nil {
				return event.Event{}, err
			}
			d.currentDB = int(n)
			continue

		case opcodeResizeDB:
			if _, _, err := readLength(d.cr); err != nil {
				return event.Event{}, err
			}
			if _, _, err := readLength(d.cr); err != nil {
				return event.Event{}, err
			}
			continue

		case opcodeAux:
			if _, err := readStringValue(d.cr); err != nil {
				return event.Event{}, err
			}
			if _, err := readStringValue(d.cr); err != nil {
				return event.Event{}, err
			}
			continue

		case opcodeIdle:
			if _, _, err := readLength(d.cr); err != nil {
				return event.Event{}, err
			}
			continue

		case opcodeFreq:
			if _, err := d.cr.readByte(); err != nil {
				return event.Event{}, err
			}
			continue

		case opcodeFunction2:
			if _, err := readStringValue(d.cr); err != nil {
				return event.Event{}, err
			}
			continue

		case opcodeSlotInfo:
			for i := 0; i < 3; i++ {
				if _, _, err := readLength(d.cr); err != nil {
					return event.Event{}, err
				}
			}
			continue

		case opcodeCompressedZstdBlobStart:
			if err := d.enterCompressedBlob(zstdDecompress); err != nil {
				return event.Event{}, err
			}
			continue

		case opcodeCompressedLZ4BlobStart:
			if err := d.enterCompressedBlob(lz4Decompress); err != nil {
				return event.Event{}, err
			}
			continue

		case opcodeCompressedBlobEnd:
			if d.savedCR != nil {
				d.cr.r = d.savedCR
				d.savedCR = nil
			}
			continue

		case opcodeEOF:
			if _, err := d.cr.readN(8); err != nil { // trailing checksum, not verified
				return event.Event{}, err
			}
			d.ended = true
			return event.Event{Kind: event.KindEndRDB}, nil

		default:
			return d.parseEntry(opcode)
		}
	}
}

func (d *Decoder) parseEntry(typeByte byte) (event.Event, error) {
	key, err := readStringValue(d.cr)
	if err != nil {
		return event.Event{}, fmt.Errorf("rdbsource: failed to read key: %w", err)
	}
	if !supportedType(typeByte) {
		return event.Event{}, fmt.Errorf("rdbsource: unsupported value type %d for key %q", typeByte, key)
	}

	d.cr.startCapture()
	if err := skipValue(d.cr, typeByte); err != nil {
		return event.Event{}, fmt.Errorf("rdbsource: failed to read value for key %q: %w", key, err)
	}
	raw := d.cr.stopCapture()

	ev := event.Event{
		Kind:       event.KindKeyValue,
		DB:         d.currentDB,
		Key:        key,
		Type:       typeName(typeByte),
		ExpireAtMs: d.pendingExpMs,
		Payload:    assembleDump(typeByte, raw, d.rdbVersion),
	}
	d.pendingExpMs = 0
	return ev, nil
}

// enterCompressedBlob reads the compressed blob's bytes, decompresses
// them with decompress, appends the blob-end opcode Dragonfly's own
// writer appends, and switches the reader onto that buffer until
// opcodeCompressedBlobEnd restores the original stream.
func (d *Decoder) enterCompressedBlob(decompress func([]byte) ([]byte, error)) error {
	compressed, err := readStringValue(d.cr)
	if err != nil {
		return fmt.Errorf("rdbsource: failed to read compressed blob: %w", err)
	}
	plain, err := decompress(compressed)
	if err != nil {
		return err
	}
	plain = append(plain, opcodeCompressedBlobEnd)
	d.savedCR = d.cr.r
	d.cr.r = bufio.NewReader(bytes.NewReader(plain))
	return nil
}

func zstdDecompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("rdbsource: zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("rdbsource: zstd decompress: %w", err)
	}
	return out, nil
}

func lz4Decompress(compressed []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		return nil, fmt.Errorf("rdbsource: lz4 decompress: %w", err)
	}
	return out, nil
}

// Close is a no-op; Decoder owns no resources beyond the reader passed
// to Open, which remains the caller's to close.
func (d *Decoder) Close() error { return nil }
