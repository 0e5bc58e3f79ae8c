package media

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Tests for sanitizeFilename
// --------------------------------------------------------------------------

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "swatch.png", "swatch.png"},
		{"whitespace run collapses", "summer   sale\tbanner.jpg", "summer-sale-banner.jpg"},
		{"surrounding whitespace trimmed", "  logo.png ", "logo.png"},
		{"unsafe characters stripped", "pho#to(1)!.jpeg", "photo1.jpeg"},
		{"unicode stripped", "café.png", "caf.png"},
		{"unix path", "/tmp/uploads/pic.png", "pic.png"},
		{"windows path", `C:\Users\me\pic.png`, "pic.png"},
		{"traversal", "../../etc/passwd", "passwd"},
		{"empty", "", "upload"},
		{"only unsafe", "$$$", "upload"},
		{"dot", ".", "upload"},
		{"dotdot", "..", "upload"},
		{"keeps underscore and dash", "a_b-c.webp", "a_b-c.webp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.want {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Tests for keyClock / deriveKey
// --------------------------------------------------------------------------

func TestKeyClock_NeverRepeats(t *testing.T) {
	fixed := time.UnixMilli(1760630400000)
	c := &keyClock{now: func() time.Time { return fixed }}

	first := c.next()
	second := c.next()
	if first != 1760630400000 {
		t.Errorf("first = %d, want 1760630400000", first)
	}
	if second != first+1 {
		t.Errorf("second = %d, want %d", second, first+1)
	}
}

func TestKeyClock_ClockGoingBackwards(t *testing.T) {
	now := time.UnixMilli(2000)
	c := &keyClock{now: func() time.Time { return now }}

	a := c.next()
	now = time.UnixMilli(1000)
	b := c.next()
	if b <= a {
		t.Errorf("next after clock step back = %d, want > %d", b, a)
	}
}

func TestDeriveKey(t *testing.T) {
	s := NewService(nil, nil, nil, WithClock(func() time.Time { return time.UnixMilli(1760630400000) }))

	if got := s.deriveKey("Spring Swatch.png", NamingTimestamp); got != "1760630400000-Spring-Swatch.png" {
		t.Errorf("timestamp key = %q", got)
	}

	got := s.deriveKey("Spring Swatch.PNG", NamingRandom)
	if !strings.HasPrefix(got, "1760630400001-") || !strings.HasSuffix(got, ".png") {
		t.Errorf("random key = %q, want 1760630400001-<hex>.png", got)
	}
	if strings.Contains(got, "Swatch") {
		t.Errorf("random key %q leaks the original name", got)
	}
	hex := strings.TrimSuffix(strings.TrimPrefix(got, "1760630400001-"), ".png")
	if len(hex) != 16 {
		t.Errorf("random suffix %q: want 16 hex chars", hex)
	}
}

func TestParseNaming(t *testing.T) {
	if ParseNaming("random") != NamingRandom || ParseNaming("RANDOM") != NamingRandom {
		t.Error("expected NamingRandom")
	}
	if ParseNaming("") != NamingTimestamp || ParseNaming("other") != NamingTimestamp {
		t.Error("expected NamingTimestamp fallback")
	}
}

// --------------------------------------------------------------------------
// Tests for measure and sniff
// --------------------------------------------------------------------------

// streamOnly hides any Seek method of the wrapped reader.
type streamOnly struct{ r io.Reader }

func (s streamOnly) Read(p []byte) (int, error) { return s.r.Read(p) }

func TestMeasure(t *testing.T) {
	s := NewService(nil, nil, nil, WithMaxUploadBytes(10))

	tests := []struct {
		name    string
		body    io.Reader
		size    int64
		wantErr error
	}{
		{"seekable within limit", bytes.NewReader(make([]byte, 10)), 10, nil},
		{"seekable over limit", bytes.NewReader(make([]byte, 11)), 0, ErrFileTooLarge},
		{"stream within limit", streamOnly{bytes.NewReader(make([]byte, 7))}, 7, nil},
		{"stream over limit", streamOnly{bytes.NewReader(make([]byte, 11))}, 0, ErrFileTooLarge},
		{"empty stream", streamOnly{bytes.NewReader(nil)}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, size, err := s.measure(tt.body)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if size != tt.size {
				t.Errorf("size = %d, want %d", size, tt.size)
			}
			data, _ := io.ReadAll(body)
			if int64(len(data)) != tt.size {
				t.Errorf("body holds %d bytes, want %d", len(data), tt.size)
			}
		})
	}
}

func TestMeasure_StartsAtCurrentOffset(t *testing.T) {
	s := NewService(nil, nil, nil, WithMaxUploadBytes(10))

	r := bytes.NewReader([]byte("skip-payload"))
	r.Seek(5, io.SeekStart)

	body, size, err := s.measure(r)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if size != 7 {
		t.Errorf("size = %d, want 7", size)
	}
	if data, _ := io.ReadAll(body); string(data) != "payload" {
		t.Errorf("body = %q, want payload", data)
	}
}

func TestSniff_Rewinds(t *testing.T) {
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 600)...)
	body := bytes.NewReader(png)

	ct, err := sniff(body)
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	if ct != "image/png" {
		t.Errorf("content type = %q, want image/png", ct)
	}
	if data, _ := io.ReadAll(body); !bytes.Equal(data, png) {
		t.Errorf("sniff consumed the body: %d of %d bytes left", len(data), len(png))
	}

	short := strings.NewReader("hello")
	if ct, _ := sniff(short); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text/plain", ct)
	}
	if data, _ := io.ReadAll(short); string(data) != "hello" {
		t.Errorf("short body not rewound: %q", data)
	}
}
