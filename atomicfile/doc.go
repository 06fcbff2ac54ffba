/*
Package atomicfile writes files so that readers only ever see either the
old content or the complete new content.

Data goes to a temporary file in the destination directory. Close() syncs
it and renames it over the destination. If any Write(), Sync() or Close()
fails, the temporary file is removed and the destination is untouched.

	func writeChunk(path string, d []byte) error {
		f, err := atomicfile.New(path)
		if err != nil {
			return err
		}
		// calling Close() twice is a no-op
		defer f.Close()

		if _, err = f.Write(d); err != nil {
			return err
		}
		return f.Close()
	}

Set NoOverwrite before Close() to fail with an error matching os.ErrExist
instead of replacing an existing destination.

For small files WriteFile does all of the above in one call.
*/
package atomicfile
