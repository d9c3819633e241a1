package rdbsource

import (
	"fmt"

	lzf "github.com/zhuyie/golzf"
)

// lzfDecompress expands an LZF-compressed RDB string. Only reached from
// readStringValue, i.e. when the decoder needs the actual content of a
// string (AUX fields, key names, Dragonfly compressed-blob bodies) rather than its
// raw on-wire bytes.
func lzfDecompress(src []byte, dstLen int) ([]byte, error) {
	dst := make([]byte, dstLen)
	n, err := lzf.Decompress(src, dst)
	if err != nil {
		return nil, fmt.Errorf("rdbsource: LZF decompression failed: %w", err)
	}
	if n != dstLen {
		return nil, fmt.Errorf("rdbsource: LZF decompressed length mismatch: want %d, got %d", dstLen, n)
	}
	return dst, nil
}
