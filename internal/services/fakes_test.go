package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/libris-hq/apiserver/internal/mq"
	"github.com/libris-hq/apiserver/internal/storage"
	"github.com/libris-hq/apiserver/internal/store"
	"github.com/libris-hq/apiserver/types"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[int]types.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[int]types.User)}
}

func (r *memUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) UpdateRole(ctx context.Context, id int, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Role = role
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return nil
}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

type memLibraryRepo struct {
	mu      sync.Mutex
	nextID  int
	records map[int]types.LibraryRecord

	createErr error
	updateErr error
	deleteErr error
}

func newMemLibraryRepo() *memLibraryRepo {
	return &memLibraryRepo{records: make(map[int]types.LibraryRecord)}
}

func (r *memLibraryRepo) List(ctx context.Context) ([]types.LibraryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]types.LibraryRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (r *memLibraryRepo) Get(ctx context.Context, id int) (types.LibraryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return types.LibraryRecord{}, store.ErrNotFound
	}
	return record, nil
}

func (r *memLibraryRepo) Create(ctx context.Context, record types.LibraryRecord) (types.LibraryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return types.LibraryRecord{}, r.createErr
	}
	r.nextID++
	record.ID = r.nextID
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	r.records[record.ID] = record
	return record, nil
}

func (r *memLibraryRepo) Update(ctx context.Context, record types.LibraryRecord) (types.LibraryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return types.LibraryRecord{}, r.updateErr
	}
	existing, ok := r.records[record.ID]
	if !ok {
		return types.LibraryRecord{}, store.ErrNotFound
	}
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now().UTC()
	record.ImageURL = ""
	r.records[record.ID] = record
	return record, nil
}

func (r *memLibraryRepo) Delete(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]mq.Event
	err    error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]mq.Event)}
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	event, err := mq.DecodeEvent(mq.Message{Data: data, Attributes: attrs})
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[channel] = append(p.events[channel], event)
	return channel, nil
}

func (p *recordingPublisher) on(channel string) []mq.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mq.Event(nil), p.events[channel]...)
}

// flakyStore wraps a real store and fails Delete for the listed keys.
type flakyStore struct {
	ObjectStore
	failDelete map[string]bool
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.failDelete[key] {
		return errBoom
	}
	return f.ObjectStore.Delete(ctx, key)
}

func newLocalStore(t *testing.T) (*storage.Storage, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	local, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	s := storage.NewStorage(local)
	require.NoError(t, s.EnsureBucket(context.Background()))
	return s, dir
}

func pngUpload(name string) *Upload {
	return &Upload{
		Filename:    name,
		ContentType: "image/png",
		Data:        []byte("\x89PNG\r\n\x1a\n" + name),
	}
}
