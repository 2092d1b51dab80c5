package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/libris-hq/apiserver/internal/metrics"
	"github.com/libris-hq/apiserver/internal/mq"
	"github.com/oklog/ulid/v2"
)

// allowedExtensions lists the image types accepted for library assets.
var allowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"webp": {},
	"gif":  {},
	"webm": {},
	"svg":  {},
}

// ObjectStore is the subset of storage.Storage used for assets.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Upload is an uploaded file as received from the client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AssetService owns the stored image files referenced by library records.
type AssetService struct {
	store        ObjectStore
	publicPrefix string
	publisher    Publisher
	logger       *slog.Logger
	newKey       func(ext string) string
}

// NewAssetService constructs an AssetService. publisher may be nil.
func NewAssetService(store ObjectStore, publicPrefix string, publisher Publisher, logger *slog.Logger) *AssetService {
	return &AssetService{
		store:        store,
		publicPrefix: strings.TrimRight(publicPrefix, "/"),
		publisher:    publisher,
		logger:       logger,
		newKey:       newAssetKey,
	}
}

// newAssetKey combines a millisecond timestamp with 80 random bits, so keys
// generated in the same millisecond do not collide.
func newAssetKey(ext string) string {
	return ulid.Make().String() + "." + ext
}

// Save validates and stores the upload and returns its key.
func (s *AssetService) Save(ctx context.Context, upload *Upload) (string, error) {
	if upload == nil || len(upload.Data) == 0 {
		return "", ErrAssetRequired
	}

	ext, err := assetExtension(upload.Filename)
	if err != nil {
		return "", err
	}

	contentType := strings.TrimSpace(upload.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension("." + ext); byExt != "" {
			contentType = byExt
		}
	}

	key := s.newKey(ext)
	if err := s.store.Put(ctx, key, bytes.NewReader(upload.Data), int64(len(upload.Data)), contentType); err != nil {
		return "", fmt.Errorf("store asset %s: %w", key, err)
	}
	s.logger.DebugContext(ctx, "asset stored", "key", key, "bytes", len(upload.Data))
	return key, nil
}

// Replace stores the upload, then runs commit with the new key so the caller
// can persist the reference. The old asset is removed only after commit
// succeeds; if commit fails the new asset is removed and the old one kept.
func (s *AssetService) Replace(ctx context.Context, oldKey string, upload *Upload, commit func(newKey string) error) (string, error) {
	newKey, err := s.Save(ctx, upload)
	if err != nil {
		return "", err
	}

	if err := commit(newKey); err != nil {
		s.Discard(ctx, newKey)
		return "", err
	}

	if oldKey != "" && oldKey != newKey {
		s.Discard(ctx, oldKey)
	}
	return newKey, nil
}

// Delete removes the asset. A missing asset is not an error.
func (s *AssetService) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete asset %s: %w", key, err)
	}
	return nil
}

// Discard deletes an asset that is no longer referenced. Failures leave an
// orphan behind; they are logged and reported on the orphaned-assets channel.
func (s *AssetService) Discard(ctx context.Context, key string) {
	if err := s.Delete(ctx, key); err != nil {
		metrics.OrphanedAssets.Inc()
		s.logger.ErrorContext(ctx, "orphaned asset left in storage", "key", key, "error", err)
		publishEvent(ctx, s.publisher, s.logger, mq.ChannelOrphanedAssets, mq.Event{
			Type:     mq.EventAssetOrphaned,
			AssetKey: key,
		})
	}
}

// Open returns a reader for the asset and its content type.
func (s *AssetService) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return rc, contentType, nil
}

// URL returns the public URL the asset is served from.
func (s *AssetService) URL(key string) string {
	if key == "" {
		return ""
	}
	return s.publicPrefix + "/" + key
}

func assetExtension(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(filename)), "."))
	if _, ok := allowedExtensions[ext]; !ok {
		return "", ErrUnsupportedType
	}
	return ext, nil
}
