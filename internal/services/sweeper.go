package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/libris-hq/apiserver/internal/mq"
)

// Subscriber consumes messages from a broker channel. *mq.MQ satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// AssetSweeper deletes assets reported on the orphaned-assets channel.
type AssetSweeper struct {
	assets *AssetService
	logger *slog.Logger
}

func NewAssetSweeper(assets *AssetService, logger *slog.Logger) *AssetSweeper {
	return &AssetSweeper{assets: assets, logger: logger}
}

// Run blocks consuming orphan events until ctx is cancelled or the
// subscription fails.
func (s *AssetSweeper) Run(ctx context.Context, sub Subscriber) error {
	s.logger.InfoContext(ctx, "sweeper started", "channel", mq.ChannelOrphanedAssets)
	return sub.Subscribe(ctx, mq.ChannelOrphanedAssets, s.Handle)
}

// Handle deletes the asset named by msg. Malformed and unrelated messages are
// acknowledged and dropped; a failed delete is returned so the broker
// redelivers it.
func (s *AssetSweeper) Handle(ctx context.Context, msg mq.Message) error {
	event, err := mq.DecodeEvent(msg)
	if err != nil {
		s.logger.WarnContext(ctx, "dropping malformed message", "message_id", msg.ID, "error", err)
		return nil
	}
	if event.Type != mq.EventAssetOrphaned || event.AssetKey == "" {
		s.logger.DebugContext(ctx, "ignoring message", "message_id", msg.ID, "type", event.Type)
		return nil
	}

	if err := s.assets.Delete(ctx, event.AssetKey); err != nil {
		return fmt.Errorf("sweep %s: %w", event.AssetKey, err)
	}
	s.logger.InfoContext(ctx, "orphaned asset removed", "key", event.AssetKey)
	return nil
}
