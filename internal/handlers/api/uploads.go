package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgecommerce/storefront/internal/safepath"
)

const uploadCacheControl = "public, max-age=31536000, immutable"

// UploadsHandler serves files written by the local storage backend. Keys
// embed a timestamp and are never reused, so responses are cacheable forever.
type UploadsHandler struct {
	root   string
	origin string
	logger *slog.Logger
}

// NewUploadsHandler serves files under root to the given frontend origin.
func NewUploadsHandler(root, origin string, logger *slog.Logger) *UploadsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadsHandler{root: root, origin: origin, logger: logger}
}

// RegisterRoutes registers the upload retrieval route under prefix, e.g.
// "/uploads".
func (h *UploadsHandler) RegisterRoutes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/{name...}", h.ServeUpload)
}

// ServeUpload handles GET /uploads/{name...}.
func (h *UploadsHandler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	path, err := safepath.Resolve(h.root, name)
	if err != nil {
		h.logger.Warn("rejected upload path", "name", name, "remote", r.RemoteAddr)
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	if hidden(h.root, path) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			h.logger.Error("failed to open upload", "error", err, "name", name)
		}
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	// Sniff from content, not from the extension the uploader chose.
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		h.logger.Error("failed to read upload", "error", err, "name", name)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		h.logger.Error("failed to rewind upload", "error", err, "name", name)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", http.DetectContentType(head[:n]))
	hdr.Set("Access-Control-Allow-Origin", h.origin)
	hdr.Add("Vary", "Origin")
	hdr.Set("Cross-Origin-Resource-Policy", "cross-origin")
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("Cache-Control", uploadCacheControl)

	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// hidden reports whether any segment of path below root starts with a dot.
// Uploads in progress live under such names until they are renamed.
func hidden(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), path)
	if err != nil {
		return true
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
