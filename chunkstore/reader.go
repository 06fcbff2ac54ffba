package chunkstore

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/kjk/toolkit/u"
)

// ChunkIndexes returns indexes of chunk files in dir, sorted in ascending order
func ChunkIndexes(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var res []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := ParseChunkFileName(e.Name()); ok {
			res = append(res, idx)
		}
	}
	slices.Sort(res)
	return res, nil
}

// readFull reads the whole file in pieces no larger than maxRead
func readFull(path string, maxRead int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer u.CloseNoError(f)
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	d := make([]byte, size)
	for off := int64(0); off < size; {
		n := min(size-off, int64(maxRead))
		if _, err = io.ReadFull(f, d[off:off+n]); err != nil {
			return nil, fmt.Errorf("reading '%s': %w", path, err)
		}
		off += n
	}
	return d, nil
}

// format returns codec and compression the store in s.Dir was written with
func (s *Store) format() (Codec, Compression, error) {
	m, err := ReadMeta(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.Codec, s.Compression, nil
		}
		return nil, "", err
	}
	if m.Codec != s.Codec.Name() {
		return nil, "", fmt.Errorf("%w: store '%s' written with '%s', reading with '%s'", ErrCodecMismatch, s.Dir, m.Codec, s.Codec.Name())
	}
	return s.Codec, m.Compression, nil
}

func readChunk[T any](path string, codec Codec, comp Compression, maxRead int) ([]T, error) {
	d, err := readFull(path, maxRead)
	if err != nil {
		return nil, err
	}
	d, err = comp.decompress(d)
	if err != nil {
		return nil, fmt.Errorf("decompressing '%s': %w", path, err)
	}
	var res []T
	if err = codec.Decode(d, &res); err != nil {
		return nil, fmt.Errorf("decoding '%s': %w", path, err)
	}
	return res, nil
}

// Load returns items saved in store directory s.Dir, in the order they
// were saved. Chunks are read one at a time.
//
//	items, errFn := chunkstore.Load[User](s)
//	for u := range items {
//	    // ...
//	}
//	if err := errFn(); err != nil {
//	    // handle error
//	}
func Load[T any](s *Store) (iter.Seq[T], func() error) {
	return LoadFunc(s, func(v T) (T, bool) {
		return v, true
	})
}

// LoadFunc is like Load but items are converted with convert.
// Items for which convert returns false are skipped.
func LoadFunc[T, U any](s *Store, convert func(T) (U, bool)) (iter.Seq[U], func() error) {
	var iterErr error
	seq := func(yield func(U) bool) {
		iterErr = nil
		st, err := s.withDefaults()
		if err != nil {
			iterErr = err
			return
		}
		if convert == nil {
			iterErr = fmt.Errorf("%w: convert is nil", ErrInvalidStore)
			return
		}
		idxs, err := ChunkIndexes(st.Dir)
		if err != nil {
			if st.AllowNotFound && errors.Is(err, os.ErrNotExist) {
				return
			}
			iterErr = fmt.Errorf("listing chunks: %w", err)
			return
		}
		codec, comp, err := st.format()
		if err != nil {
			iterErr = err
			return
		}
		for _, idx := range idxs {
			path := filepath.Join(st.Dir, ChunkFileName(idx))
			items, err := readChunk[T](path, codec, comp, st.MaxWriteSize)
			if err != nil {
				iterErr = err
				return
			}
			for _, it := range items {
				v, ok := convert(it)
				if !ok {
					continue
				}
				if !yield(v) {
					return
				}
			}
		}
	}
	errFn := func() error {
		return iterErr
	}
	return seq, errFn
}

// LoadAll returns all items in the store
func LoadAll[T any](s *Store) ([]T, error) {
	seq, errFn := Load[T](s)
	var res []T
	for v := range seq {
		res = append(res, v)
	}
	return res, errFn()
}

// Info describes a store on disk
type Info struct {
	Dir    string
	Length int
	// false if length.txt is missing i.e. writing didn't finish
	HasLength bool
	Chunks    []int
	// total size of chunk files
	Size int64
	// nil if there's no meta.txt
	Meta *Meta
}

// Info returns information about store in s.Dir
func (s *Store) Info() (*Info, error) {
	st, err := s.withDefaults()
	if err != nil {
		return nil, err
	}
	res := &Info{
		Dir: st.Dir,
	}
	res.Chunks, err = ChunkIndexes(st.Dir)
	if err != nil {
		return nil, err
	}
	for _, idx := range res.Chunks {
		res.Size += u.FileSize(filepath.Join(st.Dir, ChunkFileName(idx)))
	}
	st.AllowNotFound = true
	if res.Length, res.HasLength, err = st.Length(); err != nil {
		return nil, err
	}
	res.Meta, err = ReadMeta(st.Dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return res, nil
}

// storeFileOrder returns sort key of a store file: chunks in numeric order,
// then length.txt and meta.txt. -1 means not a store file.
func storeFileOrder(name string) int {
	if idx, ok := ParseChunkFileName(name); ok {
		return idx
	}
	switch name {
	case LengthFileName:
		return math.MaxInt - 1
	case MetaFileName:
		return math.MaxInt
	}
	return -1
}

// SortStoreFiles returns names of store files in the order they're written.
// Copying files in this order means a copy with length.txt is complete.
// Names that are not store files are dropped.
func SortStoreFiles(names []string) []string {
	var res []string
	for _, name := range names {
		if storeFileOrder(name) >= 0 {
			res = append(res, name)
		}
	}
	slices.SortFunc(res, func(a, b string) int {
		return cmp.Compare(storeFileOrder(a), storeFileOrder(b))
	})
	return res
}

// CountChunks returns number of chunks in a store with given file names
// i.e. highest chunk index + 1
func CountChunks(names []string) int {
	n := 0
	for _, name := range names {
		if idx, ok := ParseChunkFileName(name); ok {
			n = max(n, idx+1)
		}
	}
	return n
}

// StoreFiles returns names of store files in dir, in the order they're written
func StoreFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return SortStoreFiles(names), nil
}
