package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"

	"github.com/forgecommerce/storefront/internal/safepath"
)

// flakyStorage fails the first failures Delete calls with err.
type flakyStorage struct {
	mu          sync.Mutex
	failures    int
	err         error
	deleteCalls int
	putDeadline bool
}

func (f *flakyStorage) Put(ctx context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	_, f.putDeadline = ctx.Deadline()
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return "/uploads/" + key, nil
}

func (f *flakyStorage) Delete(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteCalls <= f.failures {
		return f.err
	}
	return nil
}

func fastGuard(inner Storage, attempts int) *Guarded {
	return NewGuarded(inner, GuardOptions{
		Timeout:        time.Second,
		DeleteAttempts: attempts,
		RetryInterval:  time.Millisecond,
	}, nil)
}

// --------------------------------------------------------------------------
// Guarded.Delete
// --------------------------------------------------------------------------

func TestGuarded_Delete_RetriesThenSucceeds(t *testing.T) {
	inner := &flakyStorage{failures: 2, err: errors.New("connection reset")}
	g := fastGuard(inner, 3)

	if err := g.Delete(context.Background(), "a.png"); err != nil {
		t.Fatalf("Delete: expected success after retries, got %v", err)
	}
	if inner.deleteCalls != 3 {
		t.Errorf("delete calls = %d, want 3", inner.deleteCalls)
	}
}

func TestGuarded_Delete_ExhaustsBudget(t *testing.T) {
	inner := &flakyStorage{failures: 10, err: errors.New("timeout")}
	g := fastGuard(inner, 3)

	err := g.Delete(context.Background(), "a.png")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if inner.deleteCalls != 3 {
		t.Errorf("delete calls = %d, want 3", inner.deleteCalls)
	}
}

func TestGuarded_Delete_TraversalNotRetried(t *testing.T) {
	inner := &flakyStorage{failures: 10, err: safepath.ErrPathTraversal}
	g := fastGuard(inner, 5)

	err := g.Delete(context.Background(), "../x")
	if !errors.Is(err, safepath.ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
	if inner.deleteCalls != 1 {
		t.Errorf("delete calls = %d, want 1", inner.deleteCalls)
	}
}

func TestGuarded_Delete_CancelledContext(t *testing.T) {
	inner := &flakyStorage{failures: 10, err: errors.New("unreachable")}
	g := NewGuarded(inner, GuardOptions{DeleteAttempts: 50, RetryInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Delete(ctx, "a.png")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestGuarded_Delete_LocalIdempotent(t *testing.T) {
	g := fastGuard(NewLocal(t.TempDir(), "/uploads"), 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := g.Delete(ctx, "never-existed.png"); err != nil {
			t.Fatalf("Delete #%d: %v", i+1, err)
		}
	}
}

// --------------------------------------------------------------------------
// Guarded.Put
// --------------------------------------------------------------------------

func TestGuarded_Put_SetsDeadline(t *testing.T) {
	inner := &flakyStorage{}
	g := fastGuard(inner, 1)

	url, err := g.Put(context.Background(), "a.png", strings.NewReader("x"), -1, "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "/uploads/a.png" {
		t.Errorf("url = %q", url)
	}
	if !inner.putDeadline {
		t.Error("expected Put to run under a deadline")
	}
}

func TestGuarded_Put_WrapsWriteFailure(t *testing.T) {
	inner := &flakyStorage{err: errors.New("no space left on device")}
	g := fastGuard(inner, 1)

	_, err := g.Put(context.Background(), "a.png", strings.NewReader("x"), -1, "image/png")
	if !errors.Is(err, ErrWriteFailure) {
		t.Fatalf("expected ErrWriteFailure, got %v", err)
	}
}

// --------------------------------------------------------------------------
// New
// --------------------------------------------------------------------------

func TestNew_Local(t *testing.T) {
	s, err := New(context.Background(), Options{
		Backend:        BackendLocal,
		LocalPath:      t.TempDir(),
		LocalURLPrefix: "/uploads",
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := s.(*Guarded); !ok {
		t.Errorf("expected *Guarded, got %T", s)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Options{Backend: "ftp"}, nil)
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

// --------------------------------------------------------------------------
// S3 helpers (no actual S3 connection needed)
// --------------------------------------------------------------------------

func TestIsMissingObject(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "NoSuchKey", err: &smithy.GenericAPIError{Code: "NoSuchKey"}, want: true},
		{name: "NotFound", err: &smithy.GenericAPIError{Code: "NotFound"}, want: true},
		{name: "AccessDenied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, want: false},
		{name: "plain error", err: errors.New("dial tcp: timeout"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isMissingObject(tt.err); got != tt.want {
				t.Errorf("isMissingObject() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPublicBase(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{
			name: "explicit public URL",
			cfg:  S3Config{PublicURL: "https://cdn.example.com/", Bucket: "media"},
			want: "https://cdn.example.com",
		},
		{
			name: "endpoint path style",
			cfg:  S3Config{Endpoint: "http://localhost:9000", Bucket: "media"},
			want: "http://localhost:9000/media",
		},
		{
			name: "aws virtual host",
			cfg:  S3Config{Bucket: "media", Region: "eu-central-1"},
			want: "https://media.s3.eu-central-1.amazonaws.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := publicBase(tt.cfg); got != tt.want {
				t.Errorf("publicBase() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPublicReadPolicy(t *testing.T) {
	p := publicReadPolicy("media")
	if !strings.Contains(p, `arn:aws:s3:::media/*`) {
		t.Errorf("policy missing bucket resource: %s", p)
	}
	if !strings.Contains(p, `s3:GetObject`) {
		t.Errorf("policy missing GetObject action: %s", p)
	}
}
