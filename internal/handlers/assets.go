package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/libris-hq/apiserver/internal/storage"
)

// AssetSource opens stored assets. *services.AssetService satisfies it.
type AssetSource interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// AssetHandler serves uploaded images from the configured storage backend.
type AssetHandler struct {
	assets AssetSource
	logger *slog.Logger
}

func NewAssetHandler(assets AssetSource, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{assets: assets, logger: logger}
}

// AssetRouter registers the asset route on the given router.
func AssetRouter(r chi.Router, assets AssetSource, logger *slog.Logger) {
	handler := NewAssetHandler(assets, logger)
	r.Get("/{key}", handler.ServeAsset)
}

func (h *AssetHandler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	rc, contentType, err := h.assets.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			writeError(w, http.StatusNotFound, "Asset not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "open asset", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer rc.Close()

	// Keys are never reused, so a stored asset never changes.
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; sandbox")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "write asset", "key", key, "error", err)
	}
}
