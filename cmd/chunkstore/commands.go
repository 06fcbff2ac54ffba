package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/kjk/toolkit/chunkstore"
	"github.com/kjk/toolkit/minioutil"
	"github.com/kjk/toolkit/pak"
	"github.com/kjk/toolkit/u"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

var errStoresDiffer = errors.New("stores are different")

// openInput opens input file, decompressing based on extension,
// or stdin if path is "" or "-"
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return u.OpenFileMaybeCompressed(path)
}

// readJSONValues sends json values from r to fn until r is exhausted
// or fn returns false
func readJSONValues(r io.Reader, fn func(v any) bool) error {
	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		var v any
		err := dec.Decode(&v)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decoding json: %w", err)
		}
		if !fn(v) {
			return nil
		}
	}
}

func newSaveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <dir> [input]",
		Short: "Save json values (one per line) from input file or stdin to a store",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) > 1 {
				input = args[1]
			}
			r, err := openInput(cmd, input)
			if err != nil {
				return err
			}
			defer r.Close()

			s := a.store(args[0])
			batch, _ := cmd.Flags().GetBool("batch")
			if batch {
				var items []any
				err = readJSONValues(r, func(v any) bool {
					items = append(items, v)
					return true
				})
				if err != nil {
					return err
				}
				if err = chunkstore.SaveBatch(s, items); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %d items to '%s'\n", len(items), s.Dir)
				return nil
			}

			res, err := saveStream(cmd.Context(), s, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d items in %d chunks to '%s'\n", res.Length, res.Chunks, s.Dir)
			return nil
		},
	}
	cmd.Flags().Bool("batch", false, "read all items in memory and save them at once")
	return cmd
}

func saveStream(ctx context.Context, s *chunkstore.Store, r io.Reader) (*chunkstore.StreamResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := make(chan any)
	job := chunkstore.SaveStream(ctx, s, ch)
	errRead := readJSONValues(r, func(v any) bool {
		select {
		case ch <- v:
			return true
		case <-job.Done():
			return false
		}
	})
	if errRead != nil {
		// stop the writer without finishing the store
		cancel()
		_, _ = job.Wait()
		return nil, errRead
	}
	close(ch)
	return job.Wait()
}

// formatItem renders an item in one of: json, pretty, color, dump
func formatItem(v any, format string) (string, error) {
	if format == "dump" {
		return spew.Sdump(v), nil
	}
	d, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	switch format {
	case "json":
		return string(d) + "\n", nil
	case "pretty":
		return string(pretty.Pretty(d)), nil
	case "color":
		return string(pretty.Color(pretty.Pretty(d), nil)), nil
	}
	return "", fmt.Errorf("unknown format '%s'", format)
}

func newCatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <dir>",
		Short: "Print items in a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			limit, _ := cmd.Flags().GetInt("limit")
			if _, err := formatItem(nil, format); err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			defer w.Flush()

			items, errFn := chunkstore.Load[any](a.store(args[0]))
			n := 0
			for v := range items {
				if limit > 0 && n >= limit {
					break
				}
				s, err := formatItem(v, format)
				if err != nil {
					return err
				}
				if _, err = w.WriteString(s); err != nil {
					return err
				}
				n++
			}
			return errFn()
		},
	}
	cmd.Flags().String("format", "json", "output format: json, pretty, color or dump")
	cmd.Flags().Int("limit", 0, "print at most this many items")
	return cmd
}

func newLenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "len <dir>",
		Short: "Print number of items in a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.store(args[0])
			s.AllowNotFound, _ = cmd.Flags().GetBool("allow-missing")
			n, found, err := s.Length()
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "none")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().Bool("allow-missing", false, "print 'none' instead of failing if store doesn't exist")
	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <dir>",
		Short: "Print information about a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.store(args[0]).Info()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "dir:         %s\n", info.Dir)
			if info.HasLength {
				fmt.Fprintf(w, "length:      %d\n", info.Length)
			} else {
				fmt.Fprintf(w, "length:      missing (incomplete store?)\n")
			}
			fmt.Fprintf(w, "chunks:      %d\n", len(info.Chunks))
			fmt.Fprintf(w, "size:        %s\n", u.FormatSize(info.Size))
			if m := info.Meta; m != nil {
				fmt.Fprintf(w, "mode:        %s\n", m.Mode)
				fmt.Fprintf(w, "batch size:  %d\n", m.BatchSize)
				fmt.Fprintf(w, "codec:       %s\n", m.Codec)
				fmt.Fprintf(w, "compression: %s\n", m.Compression)
			}
			return nil
		},
	}
}

// storeLines returns items of a store as json, one per line
func storeLines(s *chunkstore.Store) ([]string, error) {
	items, errFn := chunkstore.Load[any](s)
	var res []string
	for v := range items {
		d, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		res = append(res, string(d)+"\n")
	}
	return res, errFn()
}

func newDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <dir1> <dir2>",
		Short: "Show differences between items of two stores",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines1, err := storeLines(a.store(args[0]))
			if err != nil {
				return err
			}
			lines2, err := storeLines(a.store(args[1]))
			if err != nil {
				return err
			}
			diff := difflib.UnifiedDiff{
				A:        lines1,
				B:        lines2,
				FromFile: args[0],
				ToFile:   args[1],
				Context:  3,
			}
			s, err := difflib.GetUnifiedDiffString(diff)
			if err != nil {
				return err
			}
			if s == "" {
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), s)
			return errStoresDiffer
		},
	}
}

func (a *app) minioClient(ctx context.Context) (*minioutil.Client, error) {
	if a.config.Remote == nil {
		return nil, errors.New("no 'remote' section in config file")
	}
	return minioutil.New(ctx, a.config.Remote)
}

func newPushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push <dir> <remote-dir>",
		Short: "Upload a store to s3-compatible storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, remoteDir := args[0], args[1]
			if _, _, err := a.store(dir).Length(); err != nil {
				return fmt.Errorf("'%s' is not a complete store: %w", dir, err)
			}
			mc, err := a.minioClient(cmd.Context())
			if err != nil {
				return err
			}
			n, err := mc.PushStore(cmd.Context(), dir, remoteDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d files to '%s'\n", n, remoteDir)
			return nil
		},
	}
}

func newPullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <remote-dir> <dir>",
		Short: "Download a store from s3-compatible storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteDir, dir := args[0], args[1]
			s := a.store(dir)
			if !s.AllowOverwrite {
				if idxs, _ := chunkstore.ChunkIndexes(dir); len(idxs) > 0 {
					return fmt.Errorf("%w: '%s' already has a store, use --overwrite", chunkstore.ErrChunkExists, dir)
				}
			}
			mc, err := a.minioClient(cmd.Context())
			if err != nil {
				return err
			}
			n, err := mc.PullStore(cmd.Context(), strings.TrimSuffix(remoteDir, "/"), dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d files to '%s'\n", n, dir)
			return nil
		},
	}
}

func newPackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pack <dir> <archive>",
		Short: "Pack a store into a single archive file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, archivePath := args[0], args[1]
			if _, _, err := a.store(dir).Length(); err != nil {
				return fmt.Errorf("'%s' is not a complete store: %w", dir, err)
			}
			names, err := chunkstore.StoreFiles(dir)
			if err != nil {
				return err
			}
			w := pak.NewWriter()
			for _, name := range names {
				if err = w.AddFile(filepath.Join(dir, name), name); err != nil {
					return err
				}
			}
			if err = w.WriteToFile(archivePath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packed %d files to '%s'\n", len(names), archivePath)
			return nil
		},
	}
}

func newUnpackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unpack <archive> <dir>",
		Short: "Unpack a store from an archive file created with pack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			archivePath, dir := args[0], args[1]
			if !a.store(dir).AllowOverwrite {
				if idxs, _ := chunkstore.ChunkIndexes(dir); len(idxs) > 0 {
					return fmt.Errorf("%w: '%s' already has a store, use --overwrite", chunkstore.ErrChunkExists, dir)
				}
			}
			arch, err := pak.ReadArchive(archivePath)
			if err != nil {
				return err
			}
			var names []string
			for _, e := range arch.Entries {
				names = append(names, e.Name)
			}
			if len(chunkstore.SortStoreFiles(names)) != len(names) || arch.FindEntry(chunkstore.LengthFileName) == nil {
				return fmt.Errorf("'%s' is not a store archive", archivePath)
			}
			// an over-written store must not keep chunks of the previous one
			if err = chunkstore.RemoveStale(dir, chunkstore.CountChunks(names)); err != nil {
				return err
			}
			if err = arch.ExtractTo(dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unpacked %d files to '%s'\n", len(names), dir)
			return nil
		},
	}
}
