package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/libris-hq/apiserver/internal/mq"
	"github.com/libris-hq/apiserver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var assetKeyPattern = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}\.[a-z]+$`)

func TestAssetService_Save(t *testing.T) {
	st, dir := newLocalStore(t)
	svc := NewAssetService(st, "/uploads", nil, discardLogger())

	key, err := svc.Save(context.Background(), pngUpload("Cover.PNG"))
	require.NoError(t, err)
	assert.Regexp(t, assetKeyPattern, key)
	assert.Equal(t, "png", filepath.Ext(key)[1:])
	assert.FileExists(t, filepath.Join(dir, key))
}

func TestAssetService_SaveRejects(t *testing.T) {
	st, _ := newLocalStore(t)
	svc := NewAssetService(st, "/uploads", nil, discardLogger())

	tests := []struct {
		name   string
		upload *Upload
		want   error
	}{
		{"nil upload", nil, ErrAssetRequired},
		{"empty data", &Upload{Filename: "a.png"}, ErrAssetRequired},
		{"executable", &Upload{Filename: "a.exe", Data: []byte("x")}, ErrUnsupportedType},
		{"no extension", &Upload{Filename: "cover", Data: []byte("x")}, ErrUnsupportedType},
		{"double extension", &Upload{Filename: "a.png.sh", Data: []byte("x")}, ErrUnsupportedType},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Save(context.Background(), tc.upload)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, IsClientError(err))
		})
	}
}

func TestAssetService_KeysAreUnique(t *testing.T) {
	st, _ := newLocalStore(t)
	svc := NewAssetService(st, "/uploads", nil, discardLogger())

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		key, err := svc.Save(context.Background(), pngUpload("a.png"))
		require.NoError(t, err)
		_, dup := seen[key]
		require.False(t, dup, "duplicate key %s", key)
		seen[key] = struct{}{}
	}
}

func TestAssetService_ReplaceCommitSucceeds(t *testing.T) {
	ctx := context.Background()
	st, dir := newLocalStore(t)
	svc := NewAssetService(st, "/uploads", nil, discardLogger())

	oldKey, err := svc.Save(ctx, pngUpload("old.png"))
	require.NoError(t, err)

	var committed string
	newKey, err := svc.Replace(ctx, oldKey, pngUpload("new.jpg"), func(key string) error {
		committed = key
		assert.FileExists(t, filepath.Join(dir, oldKey), "old asset must survive until commit returns")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, newKey, committed)
	assert.FileExists(t, filepath.Join(dir, newKey))
	assert.NoFileExists(t, filepath.Join(dir, oldKey))
}

func TestAssetService_ReplaceCommitFails(t *testing.T) {
	ctx := context.Background()
	st, dir := newLocalStore(t)
	svc := NewAssetService(st, "/uploads", nil, discardLogger())

	oldKey, err := svc.Save(ctx, pngUpload("old.png"))
	require.NoError(t, err)

	var attempted string
	_, err = svc.Replace(ctx, oldKey, pngUpload("new.png"), func(key string) error {
		attempted = key
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.FileExists(t, filepath.Join(dir, oldKey))
	assert.NoFileExists(t, filepath.Join(dir, attempted))
}

func TestAssetService_ReplaceRejectedUploadKeepsOld(t *testing.T) {
	ctx := context.Background()
	st, dir := newLocalStore(t)
	svc := NewAssetService(st, "/uploads", nil, discardLogger())

	oldKey, err := svc.Save(ctx, pngUpload("old.png"))
	require.NoError(t, err)

	called := false
	_, err = svc.Replace(ctx, oldKey, &Upload{Filename: "x.txt", Data: []byte("x")}, func(string) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.False(t, called)
	assert.FileExists(t, filepath.Join(dir, oldKey))
}

func TestAssetService_DiscardFailureReportsOrphan(t *testing.T) {
	ctx := context.Background()
	st, _ := newLocalStore(t)
	pub := newRecordingPublisher()

	key := "01HZY3C4V0000000000000000A.png"
	flaky := &flakyStore{ObjectStore: st, failDelete: map[string]bool{key: true}}
	svc := NewAssetService(flaky, "/uploads", pub, discardLogger())

	svc.Discard(ctx, key)

	events := pub.on(mq.ChannelOrphanedAssets)
	require.Len(t, events, 1)
	assert.Equal(t, mq.EventAssetOrphaned, events[0].Type)
	assert.Equal(t, key, events[0].AssetKey)
	assert.False(t, events[0].OccurredAt.IsZero())
}

func TestAssetService_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, _ := newLocalStore(t)
	svc := NewAssetService(st, "/uploads", nil, discardLogger())

	key, err := svc.Save(ctx, pngUpload("a.png"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, key))
	require.NoError(t, svc.Delete(ctx, key))
	require.NoError(t, svc.Delete(ctx, ""))
}

func TestAssetService_Open(t *testing.T) {
	ctx := context.Background()
	st, _ := newLocalStore(t)
	svc := NewAssetService(st, "/uploads", nil, discardLogger())

	upload := pngUpload("a.png")
	key, err := svc.Save(ctx, upload)
	require.NoError(t, err)

	rc, contentType, err := svc.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, upload.Data, data)
	assert.Equal(t, "image/png", contentType)

	_, _, err = svc.Open(ctx, "01HZY3C4V0000000000000000B.png")
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound))
}

func TestAssetService_URL(t *testing.T) {
	svc := NewAssetService(nil, "https://cdn.example.com/assets/", nil, discardLogger())

	assert.Equal(t, "https://cdn.example.com/assets/k.png", svc.URL("k.png"))
	assert.Equal(t, "", svc.URL(""))
}

func TestAssetService_SaveStoreFailure(t *testing.T) {
	st, dir := newLocalStore(t)
	svc := NewAssetService(st, "/uploads", nil, discardLogger())
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a dir"), 0o644))

	_, err := svc.Save(context.Background(), pngUpload("a.png"))
	assert.Error(t, err)
	assert.False(t, IsClientError(err))
}
