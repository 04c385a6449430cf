// Package iox provides I/O helpers for resource cleanup and diagnostics.
package iox

import (
	"io"
	"os"
	"strings"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup and b.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
// Use for non-Close cleanup calls (e.g. Flush) where errors are unactionable:
//
//	defer iox.DiscardErr(w.Flush)
func DiscardErr(fn func() error) { _ = fn() }

// maxTailBytes bounds how much of a file TailLines reads from the end.
const maxTailBytes = 64 * 1024

// TailLines returns up to n trailing lines of the file at path.
// Used to attach log context to readiness-timeout diagnostics.
// Returns nil (no error) if the file does not exist.
func TailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer DiscardClose(f)

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// Read at most maxTailBytes from the end of the file.
	offset := int64(0)
	if info.Size() > maxTailBytes {
		offset = info.Size() - maxTailBytes
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if offset > 0 && len(lines) > 0 {
		// First line may be a partial record after seeking mid-file.
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
