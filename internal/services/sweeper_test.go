package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/libris-hq/apiserver/internal/mq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replaySubscriber struct {
	messages []mq.Message
	channel  string
}

func (s *replaySubscriber) Subscribe(ctx context.Context, channel string, handler mq.Handler) error {
	s.channel = channel
	for _, msg := range s.messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func orphanMessage(t *testing.T, key string) mq.Message {
	t.Helper()
	data, attrs, err := mq.Event{Type: mq.EventAssetOrphaned, AssetKey: key}.Encode()
	require.NoError(t, err)
	return mq.Message{ID: key, Data: data, Attributes: attrs}
}

func TestAssetSweeper_Run(t *testing.T) {
	ctx := context.Background()
	st, dir := newLocalStore(t)
	assets := NewAssetService(st, "/uploads", nil, discardLogger())

	key, err := assets.Save(ctx, pngUpload("a.png"))
	require.NoError(t, err)

	sub := &replaySubscriber{messages: []mq.Message{
		{ID: "junk", Data: []byte("not json")},
		orphanMessage(t, key),
		orphanMessage(t, key),
	}}
	sweeper := NewAssetSweeper(assets, discardLogger())

	require.NoError(t, sweeper.Run(ctx, sub))
	assert.Equal(t, mq.ChannelOrphanedAssets, sub.channel)
	assert.NoFileExists(t, filepath.Join(dir, key))
}

func TestAssetSweeper_IgnoresOtherEvents(t *testing.T) {
	ctx := context.Background()
	st, dir := newLocalStore(t)
	assets := NewAssetService(st, "/uploads", nil, discardLogger())

	key, err := assets.Save(ctx, pngUpload("a.png"))
	require.NoError(t, err)

	data, attrs, err := mq.Event{Type: mq.EventLibraryDeleted, AssetKey: key}.Encode()
	require.NoError(t, err)

	sweeper := NewAssetSweeper(assets, discardLogger())
	require.NoError(t, sweeper.Handle(ctx, mq.Message{Data: data, Attributes: attrs}))
	assert.FileExists(t, filepath.Join(dir, key))
}

func TestAssetSweeper_DeleteFailureIsRetried(t *testing.T) {
	st, _ := newLocalStore(t)
	key := "01HZY3C4V0000000000000000C.png"
	flaky := &flakyStore{ObjectStore: st, failDelete: map[string]bool{key: true}}
	sweeper := NewAssetSweeper(NewAssetService(flaky, "/uploads", nil, discardLogger()), discardLogger())

	err := sweeper.Handle(context.Background(), orphanMessage(t, key))
	assert.ErrorIs(t, err, errBoom)
}
