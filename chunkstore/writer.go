package chunkstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kjk/toolkit/atomicfile"
	"github.com/kjk/toolkit/log"
	"github.com/kjk/toolkit/u"
)

func atomicWriteFile(path string, d []byte) error {
	return atomicfile.WriteFile(path, d)
}

// writeChunk writes already encoded chunk data to chunk file
// with a given index. Returns number of bytes written to disk.
func writeChunk(s *Store, index int, d []byte) (int64, error) {
	path := s.chunkPath(index)
	if !s.AllowOverwrite && u.PathExists(path) {
		return 0, fmt.Errorf("%w: '%s'", ErrChunkExists, path)
	}
	d, err := s.Compression.compress(d)
	if err != nil {
		return 0, fmt.Errorf("compressing chunk %d: %w", index, err)
	}
	f, err := atomicfile.New(path)
	if err != nil {
		return 0, err
	}
	defer f.RemoveIfNotClosed()
	f.NoOverwrite = !s.AllowOverwrite

	for len(d) > 0 {
		n := min(len(d), s.MaxWriteSize)
		if _, err = f.Write(d[:n]); err != nil {
			return 0, fmt.Errorf("writing '%s': %w", path, err)
		}
		d = d[n:]
	}
	err = f.Close()
	if errors.Is(err, os.ErrExist) {
		return 0, fmt.Errorf("%w: '%s'", ErrChunkExists, path)
	}
	if err != nil {
		return 0, err
	}
	return f.Written(), nil
}

// chunkWriter writes consecutive chunks of a store
type chunkWriter[T any] struct {
	s      *Store
	buf    bytes.Buffer
	chunks int
	length int
	size   int64
}

func newChunkWriter[T any](s *Store) (*chunkWriter[T], error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &chunkWriter[T]{s: s}, nil
}

func (w *chunkWriter[T]) write(items []T) error {
	if items == nil {
		items = []T{}
	}
	w.buf.Reset()
	if err := w.s.Codec.Encode(&w.buf, items); err != nil {
		return fmt.Errorf("encoding chunk %d: %w", w.chunks, err)
	}
	n, err := writeChunk(w.s, w.chunks, w.buf.Bytes())
	if err != nil {
		return err
	}
	w.chunks++
	w.length += len(items)
	w.size += n
	// don't hold on to memory of a big chunk
	if w.buf.Cap() > 4*1024*1024 {
		w.buf = bytes.Buffer{}
	}
	return nil
}

// finish writes length.txt and meta.txt. They're written after all chunks
// so a store with length.txt is complete.
func (w *chunkWriter[T]) finish(mode string, batchSize int) error {
	if w.s.AllowOverwrite {
		if err := RemoveChunksFrom(w.s.Dir, w.chunks); err != nil {
			return err
		}
	}
	if err := writeLength(w.s.Dir, w.length); err != nil {
		return fmt.Errorf("writing length: %w", err)
	}
	m := &Meta{
		Codec:       w.s.Codec.Name(),
		Compression: w.s.Compression,
		Mode:        mode,
		BatchSize:   batchSize,
		Chunks:      w.chunks,
		Length:      w.length,
	}
	if err := writeMeta(w.s.Dir, m); err != nil {
		return fmt.Errorf("writing meta: %w", err)
	}
	return nil
}

// SaveBatch saves items to a store directory s.Dir.
// The number of items per chunk is calculated so that each chunk
// is about s.TargetChunkSize bytes.
func SaveBatch[T any](s *Store, items []T) error {
	return SaveBatchFunc(s, items, identity[T])
}

// SaveBatchFunc is like SaveBatch but items are converted with convert
// before being encoded
func SaveBatchFunc[T, U any](s *Store, items []T, convert func(T) U) error {
	st, err := s.withDefaults()
	if err != nil {
		return err
	}
	if convert == nil {
		return fmt.Errorf("%w: convert is nil", ErrInvalidStore)
	}
	timeStart := time.Now()
	w, err := newChunkWriter[U](st)
	if err != nil {
		return err
	}

	batchSize := 0
	if len(items) == 0 {
		// empty store still has a chunk so that it's different from no store
		if err = w.write(nil); err != nil {
			return err
		}
	} else {
		idxs := sampleIndexes(len(items))
		sample := make([]U, len(idxs))
		for i, idx := range idxs {
			sample[i] = convert(items[idx])
		}
		avg, err := averageSize(st.Codec, sample, st.MaxSampleBytes)
		if err != nil {
			return fmt.Errorf("estimating item size: %w", err)
		}
		batchSize = planBatchSize(st.TargetChunkSize, avg)
		log.Verbosef("chunkstore: average item size %.1f bytes, batch size %d\n", avg, batchSize)

		batch := make([]U, 0, min(batchSize, len(items)))
		for len(items) > 0 {
			n := min(batchSize, len(items))
			batch = batch[:0]
			for _, it := range items[:n] {
				batch = append(batch, convert(it))
			}
			if err = w.write(batch); err != nil {
				return err
			}
			items = items[n:]
		}
	}

	if err = w.finish("batch", batchSize); err != nil {
		return err
	}
	dur := time.Since(timeStart)
	log.Verbosef("chunkstore: saved %d items in %d chunks (%s) to '%s' in %s\n", w.length, w.chunks, u.FormatSize(w.size), st.Dir, u.FormatDuration(dur))
	log.EventWithDuration("chunkstore.save", dur, "dir", st.Dir, "items", w.length, "chunks", w.chunks, "size", w.size)
	return nil
}

func identity[T any](v T) T {
	return v
}

// RemoveChunksFrom removes chunk files with index >= first, left by
// a previous, bigger store
func RemoveChunksFrom(dir string, first int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		idx, ok := ParseChunkFileName(e.Name())
		if e.IsDir() || !ok || idx < first {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err = os.Remove(path); err != nil {
			return fmt.Errorf("removing stale chunk: %w", err)
		}
		log.Verbosef("chunkstore: removed stale chunk '%s'\n", path)
	}
	return nil
}

// RemoveStale prepares dir for copying in a store with a given number of
// chunks over an existing one. It removes length.txt, so the store reads
// as incomplete until the copy writes a new one, and chunks the new store
// won't over-write. Missing dir is not an error.
func RemoveStale(dir string, chunks int) error {
	if !u.DirExists(dir) {
		return nil
	}
	for _, name := range []string{LengthFileName, MetaFileName} {
		path := filepath.Join(dir, name)
		if !u.FileExists(path) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return RemoveChunksFrom(dir, chunks)
}
