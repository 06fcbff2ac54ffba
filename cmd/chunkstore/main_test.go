package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert"
	"github.com/kjk/toolkit/chunkstore"
	"github.com/kjk/toolkit/u"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigParse(t *testing.T) {
	yml := `
log_dir: /tmp/logs
verbose: true
target_chunk_size: 10MiB
stream_target_chunk_size: 1MB
stream_max_batch: 500
compression: zstd
overwrite: true
remote:
  endpoint: localhost:9000
  bucket: stores
  access: key
  secret: secret
  insecure: true
`
	var c Config
	err := c.Parse([]byte(yml))
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/logs", c.LogDir)
	assert.True(t, c.Verbose)
	assert.Equal(t, int64(10*1024*1024), c.Store.TargetChunkSize)
	assert.Equal(t, int64(1000*1000), c.Store.StreamTargetChunkSize)
	assert.Equal(t, 500, c.Store.StreamMaxBatch)
	assert.Equal(t, chunkstore.CompressionZstd, c.Store.Compression)
	assert.True(t, c.Store.AllowOverwrite)
	assert.NotNil(t, c.Remote)
	assert.Equal(t, "localhost:9000", c.Remote.Endpoint)
	assert.Equal(t, "stores", c.Remote.Bucket)
	assert.Equal(t, "key", c.Remote.Access)
	assert.Equal(t, "secret", c.Remote.Secret)
	assert.True(t, c.Remote.Insecure)
	assert.NoError(t, c.Remote.Validate())
}

func TestConfigParseDefaults(t *testing.T) {
	var c Config
	err := c.Parse([]byte("verbose: false\n"))
	assert.NoError(t, err)
	assert.Nil(t, c.Remote)
	assert.Equal(t, int64(0), c.Store.TargetChunkSize)
	assert.Equal(t, chunkstore.CompressionNone, c.Store.Compression)
}

func TestConfigParseErrors(t *testing.T) {
	invalid := []string{
		"compression: lzma\n",
		"target_chunk_size: lots\n",
		"stream_target_chunk_size: -5MB\n",
		"stream_max_batch: -1\n",
		"verbose: [1, 2\n",
	}
	for _, s := range invalid {
		var c Config
		assert.Error(t, c.Parse([]byte(s)), s)
	}
}

func TestLoadConfig(t *testing.T) {
	c, err := loadConfig("")
	assert.NoError(t, err)
	assert.NotNil(t, c)

	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("compression: gzip\n"), 0644))
	c, err = loadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, chunkstore.CompressionGzip, c.Store.Compression)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

const testInput = `{"a":1}
{"a":2}
[1,2]
"s"
`

func TestSaveCatLen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	out, err := runCmd(t, testInput, "save", dir)
	assert.NoError(t, err)
	assert.Equal(t, "saved 4 items in 1 chunks to '"+dir+"'\n", out)

	out, err = runCmd(t, "", "cat", dir)
	assert.NoError(t, err)
	assert.Equal(t, testInput, out)

	out, err = runCmd(t, "", "cat", "--limit", "2", dir)
	assert.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", out)

	out, err = runCmd(t, "", "len", dir)
	assert.NoError(t, err)
	assert.Equal(t, "4\n", out)

	out, err = runCmd(t, "", "info", dir)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(out, "length:      4\n"), out)
	assert.True(t, strings.Contains(out, "mode:        stream\n"), out)
	assert.True(t, strings.Contains(out, "codec:       msgpack\n"), out)
}

func TestSaveBatchCompressedInput(t *testing.T) {
	d, err := u.GzipCompressData([]byte(testInput))
	assert.NoError(t, err)
	input := filepath.Join(t.TempDir(), "input.json.gz")
	assert.NoError(t, os.WriteFile(input, d, 0644))

	dir := filepath.Join(t.TempDir(), "store")
	out, err := runCmd(t, "", "save", "--batch", "--compression", "zstd", dir, input)
	assert.NoError(t, err)
	assert.Equal(t, "saved 4 items to '"+dir+"'\n", out)

	m, err := chunkstore.ReadMeta(dir)
	assert.NoError(t, err)
	assert.Equal(t, chunkstore.CompressionZstd, m.Compression)
	assert.Equal(t, "batch", m.Mode)

	// compression is read from meta.txt
	out, err = runCmd(t, "", "cat", dir)
	assert.NoError(t, err)
	assert.Equal(t, testInput, out)
}

func TestSaveInvalidInput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	_, err := runCmd(t, "{\"a\":1}\n{oops", "save", dir)
	assert.Error(t, err)
	_, err = os.Stat(filepath.Join(dir, chunkstore.LengthFileName))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSaveOverwrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	_, err := runCmd(t, testInput, "save", dir)
	assert.NoError(t, err)
	_, err = runCmd(t, "[3]\n", "save", dir)
	assert.True(t, errors.Is(err, chunkstore.ErrChunkExists), "err: %v", err)

	_, err = runCmd(t, "[3]\n", "save", "--overwrite", dir)
	assert.NoError(t, err)
	out, err := runCmd(t, "", "cat", dir)
	assert.NoError(t, err)
	assert.Equal(t, "[3]\n", out)
}

func TestCatFormats(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	_, err := runCmd(t, "{\"a\":1}\n", "save", dir)
	assert.NoError(t, err)

	out, err := runCmd(t, "", "cat", "--format", "pretty", dir)
	assert.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}\n", out)

	out, err = runCmd(t, "", "cat", "--format", "dump", dir)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(out, "(float64) 1"), out)

	_, err = runCmd(t, "", "cat", "--format", "xml", dir)
	assert.Error(t, err)
}

func TestLenMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := runCmd(t, "", "len", dir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "err: %v", err)

	out, err := runCmd(t, "", "len", "--allow-missing", dir)
	assert.NoError(t, err)
	assert.Equal(t, "none\n", out)
}

func TestDiff(t *testing.T) {
	dir1 := filepath.Join(t.TempDir(), "s1")
	dir2 := filepath.Join(t.TempDir(), "s2")
	dir3 := filepath.Join(t.TempDir(), "s3")
	_, err := runCmd(t, testInput, "save", dir1)
	assert.NoError(t, err)
	_, err = runCmd(t, testInput, "save", "--batch", dir2)
	assert.NoError(t, err)
	_, err = runCmd(t, strings.Replace(testInput, `{"a":2}`, `{"a":3}`, 1), "save", dir3)
	assert.NoError(t, err)

	out, err := runCmd(t, "", "diff", dir1, dir2)
	assert.NoError(t, err)
	assert.Equal(t, "", out)

	out, err = runCmd(t, "", "diff", dir1, dir3)
	assert.True(t, errors.Is(err, errStoresDiffer), "err: %v", err)
	assert.True(t, strings.Contains(out, "-{\"a\":2}\n"), out)
	assert.True(t, strings.Contains(out, "+{\"a\":3}\n"), out)
}

func TestPushWithoutRemote(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	_, err := runCmd(t, testInput, "save", dir)
	assert.NoError(t, err)
	_, err = runCmd(t, "", "push", dir, "backups/store")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "remote"), "err: %v", err)

	_, err = runCmd(t, "", "push", filepath.Join(t.TempDir(), "missing"), "backups/store")
	assert.True(t, errors.Is(err, os.ErrNotExist), "err: %v", err)
}

func TestTargetSizeFlag(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	var sb strings.Builder
	for range 100 {
		sb.WriteString(`"` + strings.Repeat("x", 100) + `"` + "\n")
	}
	_, err := runCmd(t, sb.String(), "save", "--batch", "--target-size", "1KiB", dir)
	assert.NoError(t, err)
	idxs, err := chunkstore.ChunkIndexes(dir)
	assert.NoError(t, err)
	assert.True(t, len(idxs) > 5, "chunks: %v", idxs)

	_, err = runCmd(t, "", "cat", "--target-size", "huge", dir)
	assert.Error(t, err)
}

func TestPackUnpack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	_, err := runCmd(t, testInput, "save", "--compression", "brotli", dir)
	assert.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "store.pak")
	out, err := runCmd(t, "", "pack", dir, archivePath)
	assert.NoError(t, err)
	assert.Equal(t, "packed 3 files to '"+archivePath+"'\n", out)

	dir2 := filepath.Join(t.TempDir(), "store2")
	out, err = runCmd(t, "", "unpack", archivePath, dir2)
	assert.NoError(t, err)
	assert.Equal(t, "unpacked 3 files to '"+dir2+"'\n", out)

	out, err = runCmd(t, "", "cat", dir2)
	assert.NoError(t, err)
	assert.Equal(t, testInput, out)

	_, err = runCmd(t, "", "unpack", archivePath, dir2)
	assert.True(t, errors.Is(err, chunkstore.ErrChunkExists), "err: %v", err)
	_, err = runCmd(t, "", "unpack", "--overwrite", archivePath, dir2)
	assert.NoError(t, err)
}

func TestUnpackOverwriteShrinks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	_, err := runCmd(t, "1\n2\n3\n4\n5\n6\n", "save", "--batch", "--target-size", "1", dir)
	assert.NoError(t, err)
	idxs, err := chunkstore.ChunkIndexes(dir)
	assert.NoError(t, err)
	assert.Equal(t, 6, len(idxs))

	dir2 := filepath.Join(t.TempDir(), "store2")
	_, err = runCmd(t, "7\n8\n", "save", dir2)
	assert.NoError(t, err)
	archivePath := filepath.Join(t.TempDir(), "store2.pak")
	_, err = runCmd(t, "", "pack", dir2, archivePath)
	assert.NoError(t, err)

	_, err = runCmd(t, "", "unpack", "--overwrite", archivePath, dir)
	assert.NoError(t, err)
	out, err := runCmd(t, "", "len", dir)
	assert.NoError(t, err)
	assert.Equal(t, "2\n", out)
	out, err = runCmd(t, "", "cat", dir)
	assert.NoError(t, err)
	assert.Equal(t, "7\n8\n", out)
	idxs, err = chunkstore.ChunkIndexes(dir)
	assert.NoError(t, err)
	assert.Equal(t, []int{0}, idxs)
}

func TestSaveOverwriteShrinks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	_, err := runCmd(t, "1\n2\n3\n4\n5\n6\n", "save", "--batch", "--target-size", "1", dir)
	assert.NoError(t, err)

	_, err = runCmd(t, "7\n8\n", "save", "--overwrite", dir)
	assert.NoError(t, err)
	out, err := runCmd(t, "", "len", dir)
	assert.NoError(t, err)
	assert.Equal(t, "2\n", out)
	out, err = runCmd(t, "", "cat", dir)
	assert.NoError(t, err)
	assert.Equal(t, "7\n8\n", out)
}
