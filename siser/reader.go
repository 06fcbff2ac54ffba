package siser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Reader reads blocks and records written by Writer
type Reader struct {
	r *bufio.Reader

	// NoTimestamp hints that the data was written without a timestamp.
	// If set, a header with a single value after size is a name.
	NoTimestamp bool

	// Record is available after ReadNextRecord(),
	// over-written in next ReadNextRecord()
	Record *ReadRecord

	// Data, Name and Timestamp are available after ReadNextData(),
	// over-written by the next ReadNextData()
	Data      []byte
	Name      string
	Timestamp time.Time

	// position of the current and next block in the stream
	CurrRecordPos int64
	NextRecordPos int64

	err  error
	done bool
}

func NewReader(r *bufio.Reader) *Reader {
	return &Reader{
		r:      r,
		Record: &ReadRecord{},
	}
}

// Done returns true if we're finished reading
func (r *Reader) Done() bool {
	return r.err != nil || r.done
}

func (r *Reader) parseHeader(hdr []byte) (int64, error) {
	line := bytes.TrimSuffix(bytes.TrimPrefix(hdr, hdrPrefix), []byte("\n"))
	parts := bytes.SplitN(line, []byte(" "), 3)
	size, err := strconv.ParseInt(string(parts[0]), 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("unexpected header '%s'", string(hdr))
	}
	rest := parts[1:]
	if !r.NoTimestamp && len(rest) > 0 {
		ms, err := strconv.ParseInt(string(rest[0]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unexpected header '%s'", string(hdr))
		}
		r.Timestamp = time.UnixMilli(ms)
		rest = rest[1:]
	}
	if len(rest) > 0 {
		r.Name = string(bytes.Join(rest, []byte(" ")))
	}
	return size, nil
}

// ReadNextData reads the next block. Returns false at the end or on error,
// check Err() to tell them apart.
func (r *Reader) ReadNextData() bool {
	if r.Done() {
		return false
	}
	r.Name = ""
	r.Timestamp = zeroTime

	hdr, err := r.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(hdr) == 0 {
			r.done = true
		} else {
			r.err = fmt.Errorf("reading header: %w", err)
		}
		return false
	}
	r.CurrRecordPos = r.NextRecordPos
	size, err := r.parseHeader(hdr)
	if err != nil {
		r.err = err
		return false
	}

	// re-use r.Data unless it grew over 1 MB
	if cap(r.Data) > 1024*1024 || size > int64(cap(r.Data)) {
		r.Data = make([]byte, size)
	} else {
		r.Data = r.Data[:size]
	}
	if _, err = io.ReadFull(r.r, r.Data); err != nil {
		r.err = err
		return false
	}
	r.NextRecordPos += int64(len(hdr)) + size
	// skip the '\n' the writer added for readability
	if n := len(r.Data); n > 0 && r.Data[n-1] != '\n' {
		if _, err = r.r.Discard(1); err != nil {
			r.err = err
			return false
		}
		r.NextRecordPos++
	}
	return true
}

// ReadNextRecord reads a key/value record.
// Returns false if there are no more records, check Err() for errors.
func (r *Reader) ReadNextRecord() bool {
	if !r.ReadNextData() {
		return false
	}
	if _, r.err = UnmarshalRecord(r.Data, r.Record); r.err != nil {
		return false
	}
	r.Record.Name = r.Name
	r.Record.Timestamp = r.Timestamp
	return true
}

// Err returns error from last read. io.EOF is not an error.
func (r *Reader) Err() error {
	return r.err
}
