package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/forgecommerce/storefront/internal/registry"
)

// ImageLister returns the storefront-visible images of a product.
type ImageLister interface {
	ActiveImages(ctx context.Context, productID uuid.UUID) ([]registry.ImageAsset, error)
}

// PublicHandler holds dependencies for public-facing API handlers.
type PublicHandler struct {
	images ImageLister
	logger *slog.Logger
}

// NewPublicHandler creates a new public API handler.
func NewPublicHandler(images ImageLister, logger *slog.Logger) *PublicHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublicHandler{images: images, logger: logger}
}

// RegisterRoutes registers all public API routes on the given mux.
func (h *PublicHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/products/{id}/images", h.ListProductImages)
}

// imageJSON is the public-facing image representation.
type imageJSON struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Health handles GET /api/v1/health.
func (h *PublicHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListProductImages handles GET /api/v1/products/{id}/images. Images pending
// deletion are never returned.
func (h *PublicHandler) ListProductImages(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	images, err := h.images.ActiveImages(r.Context(), productID)
	if err != nil {
		if errors.Is(err, registry.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("failed to list product images", "error", err, "product_id", productID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]imageJSON, 0, len(images))
	for _, img := range images {
		out = append(out, imageJSON{Key: img.StorageKey(), URL: img.URL})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// --- Helpers ---

// writeJSON marshals v as JSON and writes it to the response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// At this point headers are already sent; just log the error.
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
