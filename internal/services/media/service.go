package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgecommerce/storefront/internal/registry"
	"github.com/forgecommerce/storefront/internal/storage"
)

// ValidationError reports a problem with the uploaded file itself. It maps
// to a 4xx response and is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

var (
	// ErrNoFile is returned when the request carried no file.
	ErrNoFile = &ValidationError{Field: "file", Message: "no file uploaded"}

	// ErrFileTooLarge is returned when the uploaded file exceeds the size limit.
	ErrFileTooLarge = &ValidationError{Field: "file", Message: "file too large"}
)

// DefaultMaxUploadBytes is the upload size limit when none is configured.
const DefaultMaxUploadBytes int64 = 10 << 20

// Naming selects how a storage key is derived from the upload.
type Naming int

const (
	// NamingTimestamp yields "<ms>-<sanitized name>".
	NamingTimestamp Naming = iota
	// NamingRandom yields "<ms>-<random hex><ext>". Used by admin uploads so
	// the original name does not show up in the public URL.
	NamingRandom
)

// ParseNaming maps a query value onto a Naming. Unknown values fall back
// to NamingTimestamp.
func ParseNaming(s string) Naming {
	if strings.EqualFold(s, "random") {
		return NamingRandom
	}
	return NamingTimestamp
}

// UploadInput is one inbound file.
type UploadInput struct {
	ProductID uuid.UUID
	Filename  string
	Size      int64
	Body      io.Reader
	Naming    Naming
}

// Descriptor is returned to the uploader.
type Descriptor struct {
	Key          string `json:"key"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
}

// ImageRegistry is the part of the asset registry ingestion writes to.
type ImageRegistry interface {
	Get(ctx context.Context, id uuid.UUID) (registry.Product, error)
	Append(ctx context.Context, productID uuid.UUID, img registry.ImageAsset) (registry.Product, error)
}

// Service ingests uploaded product images.
type Service struct {
	registry ImageRegistry
	store    storage.Storage
	maxBytes int64
	clock    *keyClock
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxUploadBytes overrides DefaultMaxUploadBytes.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithClock overrides the time source used for key timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock.now = now }
}

// NewService creates a new media service.
func NewService(reg ImageRegistry, store storage.Storage, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		registry: reg,
		store:    store,
		maxBytes: DefaultMaxUploadBytes,
		clock:    &keyClock{now: time.Now},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload stores the file and appends an active image to the product.
func (s *Service) Upload(ctx context.Context, in UploadInput) (Descriptor, error) {
	if in.Body == nil {
		return Descriptor{}, ErrNoFile
	}
	if in.Size > s.maxBytes {
		return Descriptor{}, ErrFileTooLarge
	}

	if _, err := s.registry.Get(ctx, in.ProductID); err != nil {
		return Descriptor{}, err
	}

	body, size, err := s.measure(in.Body)
	if err != nil {
		return Descriptor{}, err
	}
	contentType, err := sniff(body)
	if err != nil {
		return Descriptor{}, err
	}

	key := s.deriveKey(in.Filename, in.Naming)

	url, err := s.store.Put(ctx, key, body, size, contentType)
	if err != nil {
		return Descriptor{}, fmt.Errorf("storing %s: %w", key, err)
	}

	if _, err := s.registry.Append(ctx, in.ProductID, registry.NewImageAsset(key, url)); err != nil {
		s.discard(ctx, key)
		return Descriptor{}, fmt.Errorf("appending image to product %s: %w", in.ProductID, err)
	}

	s.logger.Info("product image uploaded",
		slog.String("product_id", in.ProductID.String()),
		slog.String("key", key),
		slog.Int64("size_bytes", size),
		slog.String("content_type", contentType),
	)

	return Descriptor{
		Key:          key,
		OriginalName: in.Filename,
		Size:         size,
		URL:          url,
	}, nil
}

// discard removes an object whose descriptor never made it into the
// registry. Failure leaves an orphan object, which is logged.
func (s *Service) discard(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("failed to clean up stored file after registry error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) deriveKey(filename string, naming Naming) string {
	ms := s.clock.next()
	name := sanitizeFilename(filename)
	if naming == NamingRandom {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		return fmt.Sprintf("%d-%s%s", ms, suffix, strings.ToLower(filepath.Ext(name)))
	}
	return fmt.Sprintf("%d-%s", ms, name)
}

// keyClock hands out strictly increasing millisecond timestamps so two
// uploads in the same millisecond still get distinct keys.
type keyClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func (c *keyClock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}

// measure returns the upload as a seekable body at its first byte, plus its
// exact length. The declared size is not trusted. Seekable bodies such as
// multipart files are measured in place; anything else is buffered up to
// the size limit.
func (s *Service) measure(body io.Reader) (io.ReadSeeker, int64, error) {
	rs, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
		if err != nil {
			return nil, 0, fmt.Errorf("reading upload: %w", err)
		}
		if int64(len(data)) > s.maxBytes {
			return nil, 0, ErrFileTooLarge
		}
		return bytes.NewReader(data), int64(len(data)), nil
	}

	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("seeking upload: %w", err)
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("seeking upload: %w", err)
	}
	if end-start > s.maxBytes {
		return nil, 0, ErrFileTooLarge
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seeking upload: %w", err)
	}
	return rs, end - start, nil
}

// sniff labels the body from its first 512 bytes and rewinds it. The type
// only sets the stored object's Content-Type; nothing is rejected on it.
func sniff(body io.ReadSeeker) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	if _, err := body.Seek(int64(-n), io.SeekCurrent); err != nil {
		return "", fmt.Errorf("rewinding upload: %w", err)
	}
	return http.DetectContentType(head[:n]), nil
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	unsafeChars   = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// sanitizeFilename keeps the base name, turns whitespace runs into a
// single hyphen and drops everything outside [A-Za-z0-9._-].
func sanitizeFilename(name string) string {
	// Get just the base filename, no path
	name = name[strings.LastIndex(name, "/")+1:]
	if i := strings.LastIndex(name, "\\"); i >= 0 {
		name = name[i+1:]
	}

	name = whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "-")
	name = unsafeChars.ReplaceAllString(name, "")

	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}
