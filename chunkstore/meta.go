package chunkstore

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kjk/toolkit/siser"
)

const metaRecordName = "chunkstore-meta"

// Meta describes how a store was written. It's saved in meta.txt.
type Meta struct {
	Codec       string
	Compression Compression
	// "batch" or "stream"
	Mode string
	// 0 if batch size was never determined
	BatchSize int
	Chunks    int
	Length    int
}

func writeMeta(dir string, m *Meta) error {
	var rec siser.Record
	rec.Name = metaRecordName
	err := rec.Write(
		"codec", m.Codec,
		"compression", string(m.Compression),
		"mode", m.Mode,
		"batch_size", m.BatchSize,
		"chunks", m.Chunks,
		"length", m.Length,
	)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w := siser.NewWriter(&buf)
	if _, err = w.WriteRecord(&rec); err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(dir, MetaFileName), buf.Bytes())
}

// ReadMeta reads meta.txt from store directory.
// Returns an error matching os.ErrNotExist if there's no meta.txt.
func ReadMeta(dir string) (*Meta, error) {
	path := filepath.Join(dir, MetaFileName)
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := siser.NewReader(bufio.NewReader(bytes.NewReader(d)))
	for r.ReadNextRecord() {
		rec := r.Record
		if rec.Name != metaRecordName {
			continue
		}
		return metaFromRecord(rec)
	}
	if err = r.Err(); err != nil {
		return nil, fmt.Errorf("reading '%s': %w", path, err)
	}
	return nil, fmt.Errorf("no '%s' record in '%s'", metaRecordName, path)
}

func metaFromRecord(rec *siser.ReadRecord) (*Meta, error) {
	m := &Meta{}
	var ok bool
	if m.Codec, ok = rec.Get("codec"); !ok {
		return nil, fmt.Errorf("missing key 'codec'")
	}
	m.Mode, _ = rec.Get("mode")
	s, _ := rec.Get("compression")
	c, err := ParseCompression(s)
	if err != nil {
		return nil, err
	}
	m.Compression = c

	ints := []struct {
		key string
		dst *int
	}{
		{"batch_size", &m.BatchSize},
		{"chunks", &m.Chunks},
		{"length", &m.Length},
	}
	for _, v := range ints {
		n, err := rec.GetInt(v.key)
		if err != nil {
			return nil, err
		}
		*v.dst = int(n)
	}
	return m, nil
}
