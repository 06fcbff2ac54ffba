package log

import (
	"bufio"
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kjk/toolkit/siser"

	"github.com/alecthomas/assert"
)

func initTestLog(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	prevOut := Out
	Out = &buf
	Init(&Config{Dir: t.TempDir()})
	t.Cleanup(func() {
		Close()
		Out = prevOut
		Verbose = false
	})
	return &buf
}

func TestLogf(t *testing.T) {
	buf := initTestLog(t)
	Logf("saved %d items\n", 5)
	Verbosef("not logged\n")
	Verbose = true
	Verbosef("logged\n")
	assert.Equal(t, "saved 5 items\nlogged\n", buf.String())

	path := log.PathForTime(time.Now())
	assert.NoError(t, log.Sync())
	d, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "saved 5 items\nlogged\n", string(d))
}

func TestErrorf(t *testing.T) {
	buf := initTestLog(t)
	assert.False(t, IfErrf(nil))
	assert.True(t, IfErrf(os.ErrNotExist, "missing chunk %d", 3))
	s := buf.String()
	assert.True(t, strings.HasPrefix(s, "missing chunk 3\n"), "got: %s", s)
	assert.True(t, strings.Contains(s, "log_test.go"), "no callstack in: %s", s)

	assert.NoError(t, errorsLog.Sync())
	d, err := os.ReadFile(errorsLog.PathForTime(time.Now()))
	assert.NoError(t, err)
	assert.Equal(t, s, string(d))
}

func TestEvent(t *testing.T) {
	initTestLog(t)
	Event("chunkstore.save", "dir", "/tmp/store", "items", 5)
	EventWithDuration("chunkstore.stream", time.Millisecond, "items", 0)

	assert.NoError(t, EventsLog().Sync())
	f, err := os.Open(EventsLog().PathForTime(time.Now()))
	assert.NoError(t, err)
	defer f.Close()

	r := siser.NewReader(bufio.NewReader(f))
	var names []string
	for r.ReadNextData() {
		names = append(names, r.Name)
		assert.True(t, len(r.Data) > 0)
		assert.False(t, r.Timestamp.IsZero())
	}
	assert.NoError(t, r.Err())
	assert.Equal(t, []string{"chunkstore.save", "chunkstore.stream"}, names)
}

func TestEventWithoutInit(t *testing.T) {
	Close()
	// events are dropped, not a crash
	Event("chunkstore.save", "items", 1)
	assert.Nil(t, EventsLog())
}
