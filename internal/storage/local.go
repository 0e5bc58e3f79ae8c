package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgecommerce/storefront/internal/safepath"
)

// TempPrefix starts the name of every in-progress upload file. Names with a
// leading dot are never produced by key derivation and are not served.
const TempPrefix = ".upload-"

// Local stores files on the local filesystem and serves them via a URL prefix.
// Every key is resolved through safepath before any I/O.
type Local struct {
	basePath  string // filesystem root, e.g. "./uploads"
	urlPrefix string // URL prefix for served files, e.g. "/uploads"
}

// NewLocal creates a local filesystem storage.
func NewLocal(basePath, urlPrefix string) *Local {
	return &Local{
		basePath:  basePath,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
	}
}

// Put writes body to a hidden temp file next to the destination and renames
// it into place, so readers never observe a partially written object.
func (l *Local) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	dest, err := safepath.Resolve(l.basePath, key)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w: %w", key, ErrWriteFailure, err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), TempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("creating file %s: %w: %w", key, ErrWriteFailure, err)
	}
	tmp := f.Name()

	_, werr := io.Copy(f, body)
	cerr := f.Close()
	if werr != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing file %s: %w: %w", key, ErrWriteFailure, werr)
	}
	if cerr != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("flushing file %s: %w: %w", key, ErrWriteFailure, cerr)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("setting mode of %s: %w: %w", key, ErrWriteFailure, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming file %s: %w: %w", key, ErrWriteFailure, err)
	}

	return l.urlPrefix + "/" + key, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	path, err := safepath.Resolve(l.basePath, key)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", key, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file %s: %w: %w", key, ErrBackendUnavailable, err)
	}
	return nil
}
