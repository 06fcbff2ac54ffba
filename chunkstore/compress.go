package chunkstore

import (
	"fmt"
	"strings"

	"github.com/kjk/toolkit/u"
)

// Compression is how chunk files are compressed
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionZstd   Compression = "zstd"
	CompressionBrotli Compression = "brotli"
	CompressionGzip   Compression = "gzip"
)

// ParseCompression parses compression name. Empty string means no compression.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd, CompressionBrotli, CompressionGzip:
		return c, nil
	case "br":
		return CompressionBrotli, nil
	case "gz":
		return CompressionGzip, nil
	}
	return "", fmt.Errorf("unknown compression '%s'", s)
}

func (c Compression) compress(d []byte) ([]byte, error) {
	switch c {
	case "", CompressionNone:
		return d, nil
	case CompressionZstd:
		return u.ZstdCompressData(d)
	case CompressionBrotli:
		return u.BrCompressDataDefault(d)
	case CompressionGzip:
		return u.GzipCompressData(d)
	}
	return nil, fmt.Errorf("unknown compression '%s'", c)
}

func (c Compression) decompress(d []byte) ([]byte, error) {
	switch c {
	case "", CompressionNone:
		return d, nil
	case CompressionZstd:
		return u.ZstdDecompressData(d)
	case CompressionBrotli:
		return u.BrDecompressData(d)
	case CompressionGzip:
		return u.GzipDecompressData(d)
	}
	return nil, fmt.Errorf("unknown compression '%s'", c)
}
