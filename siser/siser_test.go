package siser

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"
)

func TestUnmarshalErrors(t *testing.T) {
	invalidRecords := []string{
		"ha",
		"ha\n",
		"ha:\n",
		"ha:_\n",
		"ha:+32\nma",
		"ha:+2\nmara",
		"ha:+los\nma",
	}
	for _, s := range invalidRecords {
		_, err := UnmarshalRecord([]byte(s), nil)
		assert.Error(t, err, "s: '%s'", s)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	long := strings.Repeat("0123456789", 20)
	var r Record
	err := r.Write("codec", "msgpack", "batch_size", 2, "chunks", int64(3), "empty", "", "long", long, "multi", "a\nb")
	assert.NoError(t, err)
	d := r.Marshal()
	assert.True(t, bytes.HasPrefix(d, []byte("codec: msgpack\nbatch_size: 2\nchunks: 3\nempty:+0\n")), "got: %s", d)

	rec, err := UnmarshalRecord(d, nil)
	assert.NoError(t, err)
	assert.Equal(t, 6, len(rec.Entries))
	v, ok := rec.Get("codec")
	assert.True(t, ok)
	assert.Equal(t, "msgpack", v)
	n, err := rec.GetInt("batch_size")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	v, _ = rec.Get("empty")
	assert.Equal(t, "", v)
	v, _ = rec.Get("long")
	assert.Equal(t, long, v)
	v, _ = rec.Get("multi")
	assert.Equal(t, "a\nb", v)
	_, ok = rec.Get("missing")
	assert.False(t, ok)
	_, err = rec.GetInt("codec")
	assert.Error(t, err)

	// re-marshalling decoded record gives the same bytes
	assert.Equal(t, string(d), string(rec.Marshal()))
}

func TestWriteInvalidArgs(t *testing.T) {
	var r Record
	assert.Error(t, r.Write())
	assert.Error(t, r.Write("key"))
	assert.Error(t, r.Write("", "val"))
}

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var r Record
	r.Name = "chunkstore-meta"
	assert.NoError(t, r.Write("length", 5))
	now := time.Now()
	r.Timestamp = now
	_, err := w.WriteRecord(&r)
	assert.NoError(t, err)

	_, err = w.Write([]byte("no newline at the end"), time.Time{}, "raw")
	assert.NoError(t, err)
	_, err = w.Write(nil, time.Time{}, "")
	assert.NoError(t, err)

	reader := NewReader(bufio.NewReader(&buf))
	assert.True(t, reader.ReadNextRecord())
	assert.Equal(t, "chunkstore-meta", reader.Record.Name)
	assert.Equal(t, now.UnixMilli(), reader.Record.Timestamp.UnixMilli())
	n, err := reader.Record.GetInt("length")
	assert.NoError(t, err)
	assert.Equal(t, int64(5), n)

	assert.True(t, reader.ReadNextData())
	assert.Equal(t, "raw", reader.Name)
	assert.Equal(t, "no newline at the end", string(reader.Data))

	assert.True(t, reader.ReadNextData())
	assert.Equal(t, "", reader.Name)
	assert.Equal(t, 0, len(reader.Data))

	assert.False(t, reader.ReadNextData())
	assert.NoError(t, reader.Err())
	assert.True(t, reader.Done())
}

func TestNoTimestamp(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.NoTimestamp = true
	_, err := w.Write([]byte("data\n"), time.Now(), "name")
	assert.NoError(t, err)
	assert.Equal(t, "--- 5 name\ndata\n", buf.String())

	reader := NewReader(bufio.NewReader(&buf))
	reader.NoTimestamp = true
	assert.True(t, reader.ReadNextData())
	assert.Equal(t, "name", reader.Name)
	assert.True(t, reader.Timestamp.IsZero())
}

func TestReaderBadHeader(t *testing.T) {
	reader := NewReader(bufio.NewReader(strings.NewReader("--- abc\n")))
	assert.False(t, reader.ReadNextData())
	assert.Error(t, reader.Err())

	reader = NewReader(bufio.NewReader(strings.NewReader("--- 10 123 name\nshort")))
	assert.False(t, reader.ReadNextData())
	assert.Error(t, reader.Err())
}

func TestRecordPos(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	n1, err := w.Write([]byte("first"), time.Time{}, "a")
	assert.NoError(t, err)
	n2, err := w.Write([]byte("second\n"), time.Time{}, "b")
	assert.NoError(t, err)
	total := buf.Len()
	assert.Equal(t, n1+n2, total)

	r := NewReader(bufio.NewReader(&buf))
	assert.True(t, r.ReadNextData())
	assert.Equal(t, int64(0), r.CurrRecordPos)
	assert.Equal(t, int64(n1), r.NextRecordPos)
	assert.True(t, r.ReadNextData())
	assert.Equal(t, int64(n1), r.CurrRecordPos)
	assert.Equal(t, int64(total), r.NextRecordPos)
}
