package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/forgecommerce/storefront/internal/middleware"
	"github.com/forgecommerce/storefront/internal/purge"
	"github.com/forgecommerce/storefront/internal/registry"
	"github.com/forgecommerce/storefront/internal/services/media"
)

// multipart overhead allowed on top of the file size limit
const formOverheadBytes = 1 << 20

// ImageRegistry is the part of the asset registry the admin endpoints use.
type ImageRegistry interface {
	Get(ctx context.Context, id uuid.UUID) (registry.Product, error)
	MarkDeleted(ctx context.Context, productID uuid.UUID, key string) (registry.ImageAsset, error)
}

// PurgeRunner triggers one deletion job run.
type PurgeRunner interface {
	Run(ctx context.Context) purge.Result
}

// ImageHandler handles admin product image management endpoints.
type ImageHandler struct {
	media    *media.Service
	registry ImageRegistry
	purge    PurgeRunner
	maxBytes int64
	logger   *slog.Logger
}

// NewImageHandler creates a new image handler.
func NewImageHandler(mediaSvc *media.Service, reg ImageRegistry, job PurgeRunner, maxBytes int64, logger *slog.Logger) *ImageHandler {
	if maxBytes <= 0 {
		maxBytes = media.DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageHandler{
		media:    mediaSvc,
		registry: reg,
		purge:    job,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// RegisterRoutes registers product image admin routes on the given mux.
func (h *ImageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/products/{id}/images", h.ListImages)
	mux.HandleFunc("POST /admin/products/{id}/images", h.UploadImage)
	mux.HandleFunc("DELETE /admin/products/{id}/images/{key}", h.DeleteImage)
	mux.HandleFunc("POST /admin/purge", h.RunPurge)
}

// imageJSON is the admin view of an image, including lifecycle state.
type imageJSON struct {
	Key       string     `json:"key"`
	URL       string     `json:"url"`
	State     string     `json:"state"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func toImageJSON(img registry.ImageAsset) imageJSON {
	out := imageJSON{
		Key:     img.StorageKey(),
		URL:     img.URL,
		State:   img.State().String(),
		Deleted: img.Deleted(),
	}
	if at, ok := img.DeletedAt(); ok {
		out.DeletedAt = &at
	}
	return out
}

// ListImages handles GET /admin/products/{id}/images. Unlike the public
// listing it includes images pending deletion.
func (h *ImageHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseProductID(w, r)
	if !ok {
		return
	}

	product, err := h.registry.Get(r.Context(), productID)
	if err != nil {
		h.writeRegistryError(w, err, productID, "failed to load product")
		return
	}

	out := make([]imageJSON, 0, len(product.Images))
	for _, img := range product.Images {
		out = append(out, toImageJSON(img))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"productId": product.ID,
		"version":   product.Version,
		"data":      out,
	})
}

// UploadImage handles POST /admin/products/{id}/images. The file is read
// from the multipart field "file"; ?naming=random hides the original name
// from the stored key.
func (h *ImageHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseProductID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formOverheadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	desc, err := h.media.Upload(r.Context(), media.UploadInput{
		ProductID: productID,
		Filename:  header.Filename,
		Size:      header.Size,
		Body:      file,
		Naming:    media.ParseNaming(r.URL.Query().Get("naming")),
	})
	if err != nil {
		var verr *media.ValidationError
		switch {
		case errors.Is(err, media.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Message)
		case errors.Is(err, registry.ErrProductNotFound):
			writeError(w, http.StatusNotFound, "product not found")
		default:
			h.logger.Error("failed to upload image",
				"error", err,
				"filename", header.Filename,
				"product_id", productID,
			)
			writeError(w, http.StatusInternalServerError, "failed to store file")
		}
		return
	}

	subject, _ := middleware.AdminFromContext(r.Context())
	h.logger.Info("admin uploaded product image", "admin", subject, "product_id", productID, "key", desc.Key)
	writeJSON(w, http.StatusCreated, desc)
}

// DeleteImage handles DELETE /admin/products/{id}/images/{key}. The image
// disappears from the storefront at once; its file is removed by the purge
// job after the grace period.
func (h *ImageHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseProductID(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")

	if _, err := h.registry.MarkDeleted(r.Context(), productID, key); err != nil {
		if errors.Is(err, registry.ErrImageNotFound) {
			writeError(w, http.StatusNotFound, "image not found")
			return
		}
		h.writeRegistryError(w, err, productID, "failed to delete image")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RunPurge handles POST /admin/purge.
func (h *ImageHandler) RunPurge(w http.ResponseWriter, r *http.Request) {
	res := h.purge.Run(r.Context())
	switch {
	case res.Error != nil:
		writeError(w, http.StatusInternalServerError, "purge run failed")
	case res.Skipped:
		writeJSON(w, http.StatusConflict, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *ImageHandler) writeRegistryError(w http.ResponseWriter, err error, productID uuid.UUID, msg string) {
	if errors.Is(err, registry.ErrProductNotFound) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	h.logger.Error(msg, "error", err, "product_id", productID)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func parseProductID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return uuid.Nil, false
	}
	return id, true
}
