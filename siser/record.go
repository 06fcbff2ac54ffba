package siser

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

/*
Record is a list of key/value pairs serialized in a human-readable,
line-oriented format:

	key: value\n

Values that are empty, longer than 120 chars or contain bytes outside
of printable ASCII are size-prefixed:

	key:+$len\n
	value\n
*/

type Entry struct {
	Key   string
	Value string
}

var zeroTime time.Time

// Record collects key/value pairs for writing
type Record struct {
	buf  bytes.Buffer
	Name string
	// when writing, if not provided we use current time
	Timestamp time.Time
}

// ReadRecord is a Record decoded by UnmarshalRecord or Reader.ReadNextRecord
type ReadRecord struct {
	Record
	Entries []Entry
}

func toStr(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return fmt.Sprintf("%v", v)
}

// Write appends key/value pairs. Keys and values are converted
// to strings with %v unless they are strings or ints.
func (r *Record) Write(args ...any) error {
	n := len(args)
	if n == 0 || n%2 != 0 {
		return fmt.Errorf("invalid number of args: %d. Should be multiple of 2", n)
	}
	for i := 0; i < n; i += 2 {
		k := toStr(args[i])
		if k == "" {
			return fmt.Errorf("empty key at position %d", i)
		}
		r.marshalKeyVal(k, toStr(args[i+1]))
	}
	return nil
}

// Reset to re-use the record. Name is kept because the common
// case is writing many records of the same kind.
func (r *Record) Reset() {
	r.Timestamp = zeroTime
	r.buf.Reset()
}

func (r *ReadRecord) Reset() {
	r.Record.Reset()
	r.Name = ""
	r.Entries = r.Entries[:0]
}

// Get returns a value for a given key
func (r *ReadRecord) Get(key string) (string, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// GetInt returns a value for a given key parsed as int64
func (r *ReadRecord) GetInt(key string) (int64, error) {
	v, ok := r.Get(key)
	if !ok {
		return 0, fmt.Errorf("missing key '%s'", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value '%s' of key '%s' is not a number", v, key)
	}
	return n, nil
}

func serializableOnLine(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b < 32 || b > 127 {
			return false
		}
	}
	return true
}

func needsLongFormat(s string) bool {
	return len(s) == 0 || len(s) > 120 || !serializableOnLine(s)
}

func (r *Record) marshalKeyVal(key, val string) {
	r.buf.WriteString(key)
	if !needsLongFormat(val) {
		r.buf.WriteString(": ")
		r.buf.WriteString(val)
		r.buf.WriteByte('\n')
		return
	}
	r.buf.WriteString(":+")
	r.buf.WriteString(strconv.Itoa(len(val)))
	r.buf.WriteByte('\n')
	r.buf.WriteString(val)
	// for readability the next key always starts on a new line
	if len(val) == 0 || val[len(val)-1] != '\n' {
		r.buf.WriteByte('\n')
	}
}

// Marshal returns serialized record, valid until next Reset()
func (r *Record) Marshal() []byte {
	return r.buf.Bytes()
}

func (r *ReadRecord) Marshal() []byte {
	r.Record.buf.Reset()
	for _, e := range r.Entries {
		r.Record.marshalKeyVal(e.Key, e.Value)
	}
	return r.Record.Marshal()
}

// UnmarshalRecord decodes data created by Record.Marshal.
// Re-uses r if not nil.
func UnmarshalRecord(d []byte, r *ReadRecord) (*ReadRecord, error) {
	if r == nil {
		r = &ReadRecord{}
	} else {
		r.Reset()
	}

	for len(d) > 0 {
		idx := bytes.IndexByte(d, '\n')
		if idx == -1 {
			return nil, fmt.Errorf("missing '\\n' at the end of '%s'", string(d))
		}
		line := d[:idx]
		d = d[idx+1:]
		idx = bytes.IndexByte(line, ':')
		// after ':' there must be at least ' ' or '+'
		if idx == -1 || idx+1 >= len(line) {
			return nil, fmt.Errorf("line in unrecognized format: '%s'", line)
		}
		key := string(line[:idx])
		kind := line[idx+1]
		val := line[idx+2:]
		switch kind {
		case ' ':
			r.Entries = append(r.Entries, Entry{Key: key, Value: string(val)})
			continue
		case '+':
			// size-prefixed value, handled below
		default:
			return nil, fmt.Errorf("line in unrecognized format: '%s'", line)
		}

		n, err := strconv.Atoi(string(val))
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("negative length %d of data", n)
		}
		if n > len(d) {
			return nil, fmt.Errorf("length of value %d greater than remaining data of size %d", n, len(d))
		}
		r.Entries = append(r.Entries, Entry{Key: key, Value: string(d[:n])})
		d = d[n:]
		// optional newline added by the writer
		if len(d) > 0 && d[0] == '\n' {
			d = d[1:]
		}
	}
	return r, nil
}

// Unmarshal resets record and decodes data as created by Marshal into it
func (r *ReadRecord) Unmarshal(d []byte) error {
	_, err := UnmarshalRecord(d, r)
	return err
}
