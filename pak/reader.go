package pak

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kjk/toolkit/atomicfile"
	"github.com/kjk/toolkit/siser"
	"github.com/kjk/toolkit/u"
)

var (
	// ErrNoPath is returned when reading entries of an archive
	// not read from a file
	ErrNoPath = errors.New("no Path provided")
	// ErrInvalidName is returned for entry names that are not plain file names
	ErrInvalidName = errors.New("invalid entry name")
)

// Entry represents a single file in the archive
type Entry struct {
	// Name of the file, without directories
	Name string
	// offset within the archive
	Offset int64
	// size of the entry, in bytes
	Size int64
	// sha1 of content, in hex format
	Sha1 string

	// set if this was AddFile()
	srcFilePath string
	// set if this was AddData()
	data []byte
}

// Archive represents an archive
type Archive struct {
	Path    string
	Entries []*Entry

	// if true, will disable validating sha1 on reading
	DisableValidateSha1 bool
}

// entries are extracted into a single directory so names can't
// point outside of it
func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: '%s'", ErrInvalidName, name)
	}
	return nil
}

// ReadArchive reads archive from a file
func ReadArchive(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer u.CloseNoError(f)
	a, err := ReadArchiveFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading '%s': %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	// sizes come from the header and are not to be trusted
	for _, e := range a.Entries {
		if e.Offset+e.Size > st.Size() {
			return nil, fmt.Errorf("reading '%s': entry '%s' of size %d at offset %d is past end of file (%d bytes)", path, e.Name, e.Size, e.Offset, st.Size())
		}
	}
	a.Path = path
	return a, nil
}

// ReadArchiveFromReader reads archive entries
func ReadArchiveFromReader(r io.Reader) (*Archive, error) {
	sr := siser.NewReader(bufio.NewReader(r))

	// the header is a siser block with a siser record per entry
	if !sr.ReadNextData() {
		if err := sr.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("empty archive")
	}
	if sr.Name != archiveName {
		return nil, fmt.Errorf("expected header named '%s', got '%s'", archiveName, sr.Name)
	}
	// data of entries starts after the header
	currOffset := sr.NextRecordPos

	hr := siser.NewReader(bufio.NewReader(bytes.NewReader(sr.Data)))
	hr.NoTimestamp = true
	var entries []*Entry
	for hr.ReadNextRecord() {
		rec := hr.Record
		name, ok := rec.Get(metaKeyName)
		if !ok {
			return nil, fmt.Errorf("missing '%s' value", metaKeyName)
		}
		if err := validateName(name); err != nil {
			return nil, err
		}
		size, err := rec.GetInt(metaKeySize)
		if err != nil {
			return nil, err
		}
		if size < 0 {
			return nil, fmt.Errorf("negative size %d of '%s'", size, name)
		}
		sha1, ok := rec.Get(metaKeySha1)
		if !ok {
			return nil, fmt.Errorf("missing '%s' value", metaKeySha1)
		}
		e := &Entry{
			Name:   name,
			Offset: currOffset,
			Size:   size,
			Sha1:   sha1,
		}
		entries = append(entries, e)
		currOffset += size
	}
	if err := hr.Err(); err != nil {
		return nil, err
	}

	a := &Archive{
		Entries: entries,
	}
	return a, nil
}

// reads a part of a file of a given size at an offset
func readFileChunk(path string, offset, size int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer u.CloseNoError(f)

	d := make([]byte, int(size))
	if _, err = f.ReadAt(d, offset); err != nil {
		return nil, err
	}
	return d, nil
}

// ReadEntry reads a given entry from file in Path
func (a *Archive) ReadEntry(e *Entry) ([]byte, error) {
	if a.Path == "" {
		return nil, ErrNoPath
	}
	d, err := readFileChunk(a.Path, e.Offset, e.Size)
	if err != nil {
		return nil, err
	}
	if !a.DisableValidateSha1 {
		sha1Got := sha1HexOfBytes(d)
		if e.Sha1 != sha1Got {
			return nil, fmt.Errorf("mismatched sha1 for file '%s'. Expected: %s, got: %s", e.Name, e.Sha1, sha1Got)
		}
	}
	return d, nil
}

// FindEntry returns entry with a given name or nil
func (a *Archive) FindEntry(name string) *Entry {
	for _, e := range a.Entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// ExtractTo writes entries as files in dir, in archive order.
// Each file is written atomically.
func (a *Archive) ExtractTo(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, e := range a.Entries {
		d, err := a.ReadEntry(e)
		if err != nil {
			return err
		}
		if err = atomicfile.WriteFile(filepath.Join(dir, e.Name), d); err != nil {
			return err
		}
	}
	return nil
}
