package minioutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kjk/toolkit/chunkstore"
	"github.com/kjk/toolkit/log"
)

func remoteStorePath(remoteDir string, name string) string {
	return path.Join(strings.TrimSuffix(remoteDir, "/"), name)
}

// staleChunks returns chunk files in names with index >= chunks
func staleChunks(names []string, chunks int) []string {
	var res []string
	for _, name := range names {
		if idx, ok := chunkstore.ParseChunkFileName(name); ok && idx >= chunks {
			res = append(res, name)
		}
	}
	return res
}

// listStore returns names of store files directly in remoteDir,
// in the order they're written
func (c *Client) listStore(ctx context.Context, remoteDir string) ([]string, error) {
	prefix := strings.TrimSuffix(remoteDir, "/") + "/"
	var names []string
	for obj := range c.ListObjects(ctx, prefix) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		// only files directly in remoteDir
		if strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}
	return chunkstore.SortStoreFiles(names), nil
}

// PushStore uploads chunk files, length.txt and meta.txt of a store in dir
// to remoteDir. If remoteDir already has a store, its length.txt and
// chunks the new store doesn't over-write are removed first.
// Returns number of uploaded files.
func (c *Client) PushStore(ctx context.Context, dir string, remoteDir string) (int, error) {
	names, err := chunkstore.StoreFiles(dir)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, fmt.Errorf("'%s' is not a store directory", dir)
	}

	// the remote store reads as incomplete until length.txt is uploaded
	lengthRemote := remoteStorePath(remoteDir, chunkstore.LengthFileName)
	if c.Exists(ctx, lengthRemote) {
		if err = c.Remove(ctx, lengthRemote); err != nil {
			return 0, err
		}
	}
	remoteNames, err := c.listStore(ctx, remoteDir)
	if err != nil {
		return 0, err
	}
	for _, name := range staleChunks(remoteNames, chunkstore.CountChunks(names)) {
		pathRemote := remoteStorePath(remoteDir, name)
		if err = c.Remove(ctx, pathRemote); err != nil {
			return 0, fmt.Errorf("removing stale '%s': %w", pathRemote, err)
		}
		log.Verbosef("minioutil: removed stale '%s'\n", pathRemote)
	}

	for i, name := range names {
		pathLocal := filepath.Join(dir, name)
		pathRemote := remoteStorePath(remoteDir, name)
		if _, err = c.UploadFile(ctx, pathRemote, pathLocal); err != nil {
			return i, fmt.Errorf("upload of '%s' as '%s' failed with '%w'", pathLocal, pathRemote, err)
		}
		log.Verbosef("minioutil: uploaded '%s' as '%s'\n", pathLocal, pathRemote)
	}
	return len(names), nil
}

// PullStore downloads a store from remoteDir to dir. If dir already has
// a store, its length.txt and chunks the new store doesn't over-write
// are removed first. Returns number of downloaded files.
func (c *Client) PullStore(ctx context.Context, remoteDir string, dir string) (int, error) {
	names, err := c.listStore(ctx, remoteDir)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, fmt.Errorf("no store in '%s': %w", remoteDir, os.ErrNotExist)
	}
	if !slices.Contains(names, chunkstore.LengthFileName) {
		return 0, errors.New("remote store is incomplete, missing " + chunkstore.LengthFileName)
	}
	if err = chunkstore.RemoveStale(dir, chunkstore.CountChunks(names)); err != nil {
		return 0, err
	}
	for i, name := range names {
		pathLocal := filepath.Join(dir, name)
		pathRemote := remoteStorePath(remoteDir, name)
		if err = c.DownloadFileAtomically(ctx, pathLocal, pathRemote); err != nil {
			return i, fmt.Errorf("download of '%s' to '%s' failed with '%w'", pathRemote, pathLocal, err)
		}
		log.Verbosef("minioutil: downloaded '%s' to '%s'\n", pathRemote, pathLocal)
	}
	return len(names), nil
}
