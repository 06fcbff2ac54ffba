package chunkstore

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	ChunkExt       = ".chunk"
	LengthFileName = "length.txt"
	MetaFileName   = "meta.txt"

	// MaxWriteSize is the largest size of a single write or read call
	MaxWriteSize = math.MaxInt32

	DefaultTargetChunkSize       = 100 * 1024 * 1024
	DefaultStreamTargetChunkSize = 10 * 1024 * 1024
	DefaultStreamMaxBatch        = 2000
	DefaultMaxSampleBytes        = 256 * 1024 * 1024
)

var (
	// ErrInvalidStore is returned when Store is not configured correctly.
	// It's returned before any file is touched.
	ErrInvalidStore = errors.New("invalid store")
	// ErrChunkExists is returned when writing a chunk file that already exists
	// and Store.AllowOverwrite is false
	ErrChunkExists = errors.New("chunk file already exists")
	// ErrCodecMismatch is returned when reading a store written with a different codec
	ErrCodecMismatch = errors.New("codec mismatch")
)

// Store describes a store directory and how it's written and read.
// Zero values of numeric fields mean a default.
type Store struct {
	Dir string

	// desired size of a chunk file in bytes, for SaveBatch
	TargetChunkSize int64
	// desired size of a chunk file in bytes, for SaveStream
	StreamTargetChunkSize int64
	// SaveStream buffers at most this many items before
	// deciding on a batch size
	StreamMaxBatch int
	// chunk data is written and read in pieces no larger than this
	MaxWriteSize int
	// if encoded sample of items is bigger than this, we estimate
	// the size on a smaller sample
	MaxSampleBytes int64

	Codec       Codec
	Compression Compression

	// if true, reading a store that doesn't exist is not an error
	AllowNotFound bool
	// if true, existing chunk files can be over-written
	AllowOverwrite bool
}

// withDefaults validates s and returns a copy with defaults filled in
func (s *Store) withDefaults() (*Store, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidStore)
	}
	if s.Dir == "" {
		return nil, fmt.Errorf("%w: Dir is not set. For current directory, use '.'", ErrInvalidStore)
	}
	if s.TargetChunkSize < 0 || s.StreamTargetChunkSize < 0 || s.MaxSampleBytes < 0 {
		return nil, fmt.Errorf("%w: sizes can't be negative", ErrInvalidStore)
	}
	if s.StreamMaxBatch < 0 {
		return nil, fmt.Errorf("%w: StreamMaxBatch can't be negative", ErrInvalidStore)
	}
	if s.MaxWriteSize < 0 || s.MaxWriteSize > MaxWriteSize {
		return nil, fmt.Errorf("%w: MaxWriteSize must be between 0 (default) and %d", ErrInvalidStore, MaxWriteSize)
	}
	comp, err := ParseCompression(string(s.Compression))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStore, err)
	}

	res := *s
	res.Compression = comp
	if res.TargetChunkSize == 0 {
		res.TargetChunkSize = DefaultTargetChunkSize
	}
	if res.StreamTargetChunkSize == 0 {
		res.StreamTargetChunkSize = DefaultStreamTargetChunkSize
	}
	if res.StreamMaxBatch == 0 {
		res.StreamMaxBatch = DefaultStreamMaxBatch
	}
	if res.MaxWriteSize == 0 {
		res.MaxWriteSize = MaxWriteSize
	}
	if res.MaxSampleBytes == 0 {
		res.MaxSampleBytes = DefaultMaxSampleBytes
	}
	if res.Codec == nil {
		res.Codec = DefaultCodec
	}
	return &res, nil
}

func (s *Store) chunkPath(index int) string {
	return filepath.Join(s.Dir, ChunkFileName(index))
}

// ChunkFileName returns name of the chunk file with a given index
func ChunkFileName(index int) string {
	return strconv.Itoa(index) + ChunkExt
}

// ParseChunkFileName returns index of a chunk file or false if name
// is not a chunk file
func ParseChunkFileName(name string) (int, bool) {
	s, ok := strings.CutSuffix(name, ChunkExt)
	if !ok || s == "" {
		return 0, false
	}
	// only plain decimal numbers, no signs
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Length returns number of items in the store.
// If the store doesn't exist, returns an error matching os.ErrNotExist
// or, if AllowNotFound is set, (0, false, nil).
func (s *Store) Length() (int, bool, error) {
	st, err := s.withDefaults()
	if err != nil {
		return 0, false, err
	}
	path := filepath.Join(st.Dir, LengthFileName)
	d, err := os.ReadFile(path)
	if err != nil {
		if st.AllowNotFound && errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(d)))
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("invalid length '%s' in '%s'", strings.TrimSpace(string(d)), path)
	}
	return n, true, nil
}

func writeLength(dir string, n int) error {
	return atomicWriteFile(filepath.Join(dir, LengthFileName), []byte(strconv.Itoa(n)))
}
