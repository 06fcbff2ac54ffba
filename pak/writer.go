package pak

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kjk/toolkit/atomicfile"
	"github.com/kjk/toolkit/siser"
	"github.com/kjk/toolkit/u"
)

const (
	archiveName      = "pak-archive3"
	archiveEntryName = "pak-entry"

	metaKeyName = "Name"
	metaKeySize = "Size"
	metaKeySha1 = "Sha1"
)

// Writer is for creating an archive
type Writer struct {
	// Entries is exposed so that we can re-arrange (e.g. sort)
	// them before calling Write
	Entries []*Entry
}

// NewWriter creates a new archive writer
func NewWriter() *Writer {
	return &Writer{}
}

func sha1HexOfBytes(d []byte) string {
	return fmt.Sprintf("%x", sha1.Sum(d))
}

func sha1HexOfFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer u.CloseNoError(f)
	h := sha1.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), n, nil
}

// AddFile adds a file from disk under a given name. If name is empty,
// base name of path is used. Content is read again in Write so files
// don't have to fit in memory.
func (w *Writer) AddFile(path string, name string) error {
	if name == "" {
		name = filepath.Base(path)
	}
	if err := validateName(name); err != nil {
		return err
	}
	hash, size, err := sha1HexOfFile(path)
	if err != nil {
		return err
	}
	e := &Entry{
		Name:        name,
		Size:        size,
		Sha1:        hash,
		srcFilePath: path,
	}
	w.Entries = append(w.Entries, e)
	return nil
}

// AddData adds data under a given name
func (w *Writer) AddData(d []byte, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	e := &Entry{
		Name: name,
		Size: int64(len(d)),
		Sha1: sha1HexOfBytes(d),
		data: d,
	}
	w.Entries = append(w.Entries, e)
	return nil
}

func serializeHeader(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	sw := siser.NewWriter(&buf)
	sw.NoTimestamp = true

	var r siser.Record
	r.Name = archiveEntryName
	for _, e := range entries {
		err := r.Write(metaKeyName, e.Name, metaKeySize, e.Size, metaKeySha1, e.Sha1)
		if err != nil {
			return nil, err
		}
		if _, err = sw.WriteRecord(&r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// WriteToFile atomically writes an archive to a file
func (w *Writer) WriteToFile(path string) error {
	f, err := atomicfile.New(path)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()
	if err = w.Write(f); err != nil {
		return err
	}
	return f.Close()
}

func writeEntryData(wr io.Writer, e *Entry) error {
	if e.srcFilePath == "" {
		_, err := wr.Write(e.data)
		return err
	}
	f, err := os.Open(e.srcFilePath)
	if err != nil {
		return err
	}
	defer u.CloseNoError(f)
	n, err := io.Copy(wr, f)
	if err != nil {
		return err
	}
	if n != e.Size {
		return fmt.Errorf("file '%s' changed size from %d to %d", e.srcFilePath, e.Size, n)
	}
	return nil
}

// Write writes an archive: a header with entries followed by data of entries
func (w *Writer) Write(wr io.Writer) error {
	if wr == nil {
		return errors.New("must provide io.Writer")
	}
	if len(w.Entries) == 0 {
		return errors.New("there are 0 entries to write")
	}

	hdr, err := serializeHeader(w.Entries)
	if err != nil {
		return err
	}
	sw := siser.NewWriter(wr)
	if _, err = sw.Write(hdr, time.Now(), archiveName); err != nil {
		return err
	}
	for _, e := range w.Entries {
		if err = writeEntryData(wr, e); err != nil {
			return fmt.Errorf("writing '%s': %w", e.Name, err)
		}
	}
	return nil
}
