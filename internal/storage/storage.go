package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

var (
	// ErrWriteFailure wraps any failure to store an object (disk full,
	// permissions, network fault).
	ErrWriteFailure = errors.New("storage write failed")

	// ErrBackendUnavailable wraps delete failures caused by transport faults
	// or timeouts. A missing object is never reported with this error.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrUnknownBackend is returned by New for an unrecognised backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Storage abstracts file storage operations. Implementations handle the local
// filesystem or S3-compatible object storage (AWS, CEPH, MinIO).
type Storage interface {
	// Put stores size bytes read from body under key and returns a publicly
	// retrievable URL. key is a flat object name such as
	// "1760630400000-swatch.png". Remote backends need the size up front;
	// pass an io.ReadSeeker when the request may have to be replayed.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (url string, err error)

	// Delete removes the object at key. Deleting a key that does not exist
	// succeeds.
	Delete(ctx context.Context, key string) error
}

// Backend names accepted by New.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// Options selects and configures the storage backend for the process.
type Options struct {
	Backend string

	LocalPath      string // local-only: filesystem root
	LocalURLPrefix string // local-only: URL prefix the files are served under

	S3 S3Config

	OpTimeout      time.Duration
	DeleteAttempts int
}

// New builds the backend named by opts.Backend and wraps it in a Guarded
// decorator. It is called once at startup; the result is injected wherever
// storage is needed.
func New(ctx context.Context, opts Options, logger *slog.Logger) (Storage, error) {
	var (
		inner Storage
		err   error
	)

	switch opts.Backend {
	case BackendLocal:
		inner = NewLocal(opts.LocalPath, opts.LocalURLPrefix)
	case BackendS3:
		inner, err = NewS3(ctx, opts.S3)
	case BackendMinio:
		inner, err = NewMinio(ctx, opts.S3, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	return NewGuarded(inner, GuardOptions{
		Timeout:        opts.OpTimeout,
		DeleteAttempts: opts.DeleteAttempts,
	}, logger), nil
}
