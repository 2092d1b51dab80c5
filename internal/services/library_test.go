package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/libris-hq/apiserver/internal/mq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type libraryFixture struct {
	svc   *LibraryService
	repo  *memLibraryRepo
	pub   *recordingPublisher
	dir   string
	store *flakyStore
}

func newLibraryFixture(t *testing.T) libraryFixture {
	t.Helper()
	st, dir := newLocalStore(t)
	flaky := &flakyStore{ObjectStore: st, failDelete: map[string]bool{}}
	pub := newRecordingPublisher()
	repo := newMemLibraryRepo()
	assets := NewAssetService(flaky, "/uploads", pub, discardLogger())
	return libraryFixture{
		svc:   NewLibraryService(repo, assets, pub, discardLogger()),
		repo:  repo,
		pub:   pub,
		dir:   dir,
		store: flaky,
	}
}

func mobyDick() RecordInput {
	return RecordInput{Title: "Moby Dick", Description: "A whale story", Author: "Melville"}
}

func TestLibraryService_Lifecycle(t *testing.T) {
	f := newLibraryFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, mobyDick(), pngUpload("a42.png"))
	require.NoError(t, err)
	a42 := created.Image
	assert.FileExists(t, filepath.Join(f.dir, a42))
	assert.Equal(t, "/uploads/"+a42, created.ImageURL)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	updated, err := f.svc.Update(ctx, created.ID, mobyDick(), pngUpload("a99.png"))
	require.NoError(t, err)
	a99 := updated.Image
	assert.NotEqual(t, a42, a99)
	assert.FileExists(t, filepath.Join(f.dir, a99))
	assert.NoFileExists(t, filepath.Join(f.dir, a42))

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, a99, got.Image)
	assert.Equal(t, "/uploads/"+a99, got.ImageURL)

	require.NoError(t, f.svc.Delete(ctx, created.ID))
	_, err = f.svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, filepath.Join(f.dir, a99))

	events := f.pub.on(mq.ChannelLibraryEvents)
	require.Len(t, events, 3)
	assert.Equal(t, mq.EventLibraryCreated, events[0].Type)
	assert.Equal(t, mq.EventLibraryUpdated, events[1].Type)
	assert.Equal(t, mq.EventLibraryDeleted, events[2].Type)
	assert.Equal(t, created.ID, events[2].RecordID)
}

func TestLibraryService_CreateValidation(t *testing.T) {
	f := newLibraryFixture(t)
	ctx := context.Background()

	in := mobyDick()
	in.Author = "  "
	_, err := f.svc.Create(ctx, in, pngUpload("a.png"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Create(ctx, mobyDick(), nil)
	assert.ErrorIs(t, err, ErrAssetRequired)

	_, err = f.svc.Create(ctx, mobyDick(), &Upload{Filename: "a.pdf", Data: []byte("%PDF")})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	records, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
	assertNoAssets(t, f.dir)
}

func TestLibraryService_CreateRollsBackAsset(t *testing.T) {
	f := newLibraryFixture(t)
	f.repo.createErr = errBoom

	_, err := f.svc.Create(context.Background(), mobyDick(), pngUpload("a.png"))
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, IsClientError(err))
	assertNoAssets(t, f.dir)
}

func TestLibraryService_UpdateWithoutUploadKeepsAsset(t *testing.T) {
	f := newLibraryFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, mobyDick(), pngUpload("a.png"))
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.ID, RecordInput{
		Title:       "Moby-Dick; or, The Whale",
		Description: "A whale story",
		Author:      "Herman Melville",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Moby-Dick; or, The Whale", updated.Title)
	assert.Equal(t, created.Image, updated.Image)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.FileExists(t, filepath.Join(f.dir, created.Image))
}

func TestLibraryService_UpdateFailureKeepsOldAsset(t *testing.T) {
	f := newLibraryFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, mobyDick(), pngUpload("a.png"))
	require.NoError(t, err)

	f.repo.updateErr = errBoom
	_, err = f.svc.Update(ctx, created.ID, mobyDick(), pngUpload("b.png"))
	assert.ErrorIs(t, err, errBoom)

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Image, got.Image)
	assertAssets(t, f.dir, created.Image)
}

func TestLibraryService_UpdateOrphansOldAssetOnDeleteFailure(t *testing.T) {
	f := newLibraryFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, mobyDick(), pngUpload("a.png"))
	require.NoError(t, err)
	f.store.failDelete[created.Image] = true

	updated, err := f.svc.Update(ctx, created.ID, mobyDick(), pngUpload("b.png"))
	require.NoError(t, err)
	assert.NotEqual(t, created.Image, updated.Image)

	orphans := f.pub.on(mq.ChannelOrphanedAssets)
	require.Len(t, orphans, 1)
	assert.Equal(t, created.Image, orphans[0].AssetKey)
}

func TestLibraryService_UpdateValidationAndNotFound(t *testing.T) {
	f := newLibraryFixture(t)
	ctx := context.Background()

	_, err := f.svc.Update(ctx, 1, RecordInput{}, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Update(ctx, 404, mobyDick(), pngUpload("a.png"))
	assert.ErrorIs(t, err, ErrNotFound)
	assertNoAssets(t, f.dir)
}

func TestLibraryService_DeleteNotFound(t *testing.T) {
	f := newLibraryFixture(t)

	assert.ErrorIs(t, f.svc.Delete(context.Background(), 7), ErrNotFound)
}

func TestLibraryService_DeleteRecordFailureAfterAsset(t *testing.T) {
	f := newLibraryFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, mobyDick(), pngUpload("a.png"))
	require.NoError(t, err)

	f.repo.deleteErr = errBoom
	err = f.svc.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, errBoom)
	assert.NoFileExists(t, filepath.Join(f.dir, created.Image))
}

func TestLibraryService_DeleteAssetFailureKeepsRecord(t *testing.T) {
	f := newLibraryFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, mobyDick(), pngUpload("a.png"))
	require.NoError(t, err)
	f.store.failDelete[created.Image] = true

	assert.ErrorIs(t, f.svc.Delete(ctx, created.ID), errBoom)
	_, err = f.svc.Get(ctx, created.ID)
	assert.NoError(t, err)
}

func TestLibraryService_ListOrderedByID(t *testing.T) {
	f := newLibraryFixture(t)
	ctx := context.Background()

	for _, title := range []string{"B", "A", "C"} {
		in := mobyDick()
		in.Title = title
		_, err := f.svc.Create(ctx, in, pngUpload(title+".png"))
		require.NoError(t, err)
	}

	records, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, record := range records {
		assert.Equal(t, i+1, record.ID)
		assert.Equal(t, "/uploads/"+record.Image, record.ImageURL)
	}
}

func assertNoAssets(t *testing.T, dir string) {
	t.Helper()
	assertAssets(t, dir)
}

func assertAssets(t *testing.T, dir string, keys ...string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	assert.ElementsMatch(t, keys, names)
}
