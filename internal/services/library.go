package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/libris-hq/apiserver/internal/metrics"
	"github.com/libris-hq/apiserver/internal/mq"
	"github.com/libris-hq/apiserver/internal/store"
	"github.com/libris-hq/apiserver/types"
)

// LibraryRepository defines persistence operations for library records.
type LibraryRepository interface {
	List(ctx context.Context) ([]types.LibraryRecord, error)
	Get(ctx context.Context, id int) (types.LibraryRecord, error)
	Create(ctx context.Context, record types.LibraryRecord) (types.LibraryRecord, error)
	Update(ctx context.Context, record types.LibraryRecord) (types.LibraryRecord, error)
	Delete(ctx context.Context, id int) error
}

// RecordInput holds the editable fields of a library record.
type RecordInput struct {
	Title       string
	Description string
	Author      string
}

func (in RecordInput) normalize() (RecordInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Author = strings.TrimSpace(in.Author)
	if in.Title == "" || in.Description == "" || in.Author == "" {
		return RecordInput{}, validationError("title, description and author are required")
	}
	return in, nil
}

// LibraryService manages library records and keeps each record's image in
// step with the asset store.
type LibraryService struct {
	repo      LibraryRepository
	assets    *AssetService
	publisher Publisher
	logger    *slog.Logger
}

func NewLibraryService(repo LibraryRepository, assets *AssetService, publisher Publisher, logger *slog.Logger) *LibraryService {
	return &LibraryService{
		repo:      repo,
		assets:    assets,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *LibraryService) List(ctx context.Context) ([]types.LibraryRecord, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	for i := range records {
		records[i].ImageURL = s.assets.URL(records[i].Image)
	}
	return records, nil
}

func (s *LibraryService) Get(ctx context.Context, id int) (types.LibraryRecord, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.LibraryRecord{}, ErrNotFound
		}
		return types.LibraryRecord{}, fmt.Errorf("get record %d: %w", id, err)
	}
	record.ImageURL = s.assets.URL(record.Image)
	return record, nil
}

// Create stores the upload and persists a record referencing it. The asset is
// removed again if the record cannot be saved.
func (s *LibraryService) Create(ctx context.Context, in RecordInput, upload *Upload) (record types.LibraryRecord, err error) {
	defer s.observe("create", &err)

	in, err = in.normalize()
	if err != nil {
		return types.LibraryRecord{}, err
	}
	if upload == nil || len(upload.Data) == 0 {
		return types.LibraryRecord{}, ErrAssetRequired
	}

	key, err := s.assets.Save(ctx, upload)
	if err != nil {
		return types.LibraryRecord{}, err
	}

	record, err = s.repo.Create(ctx, types.LibraryRecord{
		Title:       in.Title,
		Description: in.Description,
		Author:      in.Author,
		Image:       key,
	})
	if err != nil {
		s.assets.Discard(ctx, key)
		return types.LibraryRecord{}, fmt.Errorf("create record: %w", err)
	}

	record.ImageURL = s.assets.URL(record.Image)
	s.logger.InfoContext(ctx, "library record created", "record_id", record.ID, "image", record.Image)
	s.publish(ctx, mq.EventLibraryCreated, record)
	return record, nil
}

// Update overwrites the record fields. When upload is non-nil the image is
// replaced: the new reference is persisted before the old asset is deleted.
func (s *LibraryService) Update(ctx context.Context, id int, in RecordInput, upload *Upload) (record types.LibraryRecord, err error) {
	defer s.observe("update", &err)

	in, err = in.normalize()
	if err != nil {
		return types.LibraryRecord{}, err
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.LibraryRecord{}, ErrNotFound
		}
		return types.LibraryRecord{}, fmt.Errorf("get record %d: %w", id, err)
	}

	next := current
	next.Title = in.Title
	next.Description = in.Description
	next.Author = in.Author

	save := func() error {
		updated, err := s.repo.Update(ctx, next)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("update record %d: %w", id, err)
		}
		record = updated
		return nil
	}

	if upload == nil {
		if err := save(); err != nil {
			return types.LibraryRecord{}, err
		}
	} else {
		_, err := s.assets.Replace(ctx, current.Image, upload, func(newKey string) error {
			next.Image = newKey
			return save()
		})
		if err != nil {
			return types.LibraryRecord{}, err
		}
	}

	record.ImageURL = s.assets.URL(record.Image)
	s.logger.InfoContext(ctx, "library record updated", "record_id", record.ID, "image", record.Image)
	s.publish(ctx, mq.EventLibraryUpdated, record)
	return record, nil
}

// Delete removes the record's asset and then the record itself.
func (s *LibraryService) Delete(ctx context.Context, id int) (err error) {
	defer s.observe("delete", &err)

	record, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get record %d: %w", id, err)
	}

	if err := s.assets.Delete(ctx, record.Image); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "library record references a deleted asset",
			"record_id", id, "image", record.Image, "error", err)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete record %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "library record deleted", "record_id", id)
	s.publish(ctx, mq.EventLibraryDeleted, record)
	return nil
}

func (s *LibraryService) observe(operation string, err *error) {
	metrics.LibraryOperations.WithLabelValues(operation, metrics.Outcome(*err, IsClientError)).Inc()
}

func (s *LibraryService) publish(ctx context.Context, eventType string, record types.LibraryRecord) {
	publishEvent(ctx, s.publisher, s.logger, mq.ChannelLibraryEvents, mq.Event{
		Type:     eventType,
		RecordID: record.ID,
		AssetKey: record.Image,
	})
}
