package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrFileNotFound signals a missing media file, distinguishable from I/O
// errors so callers can treat it as a fatal precondition failure.
var ErrFileNotFound = errors.New("file not found")

// Local resolves post media paths under a base directory.
type Local struct {
	baseDir string
}

func NewLocal(baseDir string) *Local {
	return &Local{baseDir: baseDir}
}

// Open returns a seekable reader and the file length.
func (l *Local) Open(path string) (io.ReadSeekCloser, int64, error) {
	if path == "" {
		return nil, 0, fmt.Errorf("%w: empty path", ErrFileNotFound)
	}
	full := path
	if l.baseDir != "" && !filepath.IsAbs(path) {
		full = filepath.Join(l.baseDir, filepath.Clean("/"+path))
	}
	// Keep media reads inside the base directory.
	if l.baseDir != "" && !strings.HasPrefix(full, filepath.Clean(l.baseDir)) {
		return nil, 0, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return f, info.Size(), nil
}
