/*
Package atomicfile writes whole files so that readers observe either the
old content or the complete new content, never a partial write.

Data goes to a temporary file in the destination directory. Close syncs it,
renames it over the destination and syncs the directory. If Write or Close
fails, or the write is abandoned with RemoveIfNotClosed, the temporary file
is removed and the destination is left untouched.

The xmlstore local backend flushes documents this way:

	func save(path string, data []byte) error {
		f, err := atomicfile.New(path)
		if err != nil {
			return err
		}
		// removes the temp file if we return before Close
		defer f.RemoveIfNotClosed()

		if _, err = f.Write(data); err != nil {
			return err
		}
		return f.Close()
	}

WriteFile wraps the above.
*/
package atomicfile
