// Package safe holds guarded versions of operations that can misbehave on
// untrusted input: reading files from user-controlled paths and running
// code that may panic.
package safe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultMaxFileSize bounds ReadFile when no limit is given (1MB).
const DefaultMaxFileSize = 1 << 20

// ReadOptions configures ReadFile.
type ReadOptions struct {
	// MaxSize caps the bytes read. Zero means DefaultMaxFileSize.
	MaxSize int64
	// AllowSymlinks follows a symlink at path instead of rejecting it.
	AllowSymlinks bool
}

// ReadFile reads the regular file at path. The limit is enforced on the
// bytes actually read, so a file growing after the check is still caught.
func ReadFile(path string, opts *ReadOptions) ([]byte, error) {
	var o ReadOptions
	if opts != nil {
		o = *opts
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxFileSize
	}
	path = filepath.Clean(path)

	if !o.AllowSymlinks {
		info, err := os.Lstat(path)
		if err != nil {
			return nil, err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("file %q is a symlink", path)
		}
	}

	f, err := os.Open(path) // #nosec G304 - caller-chosen path, checked below.
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, o.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	if int64(len(data)) > o.MaxSize {
		return nil, fmt.Errorf("file %q exceeds maximum allowed size of %d bytes", path, o.MaxSize)
	}
	return data, nil
}
