package mq

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/libris-hq/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakePubSub(t *testing.T) (*PubSubClient, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := NewPubSubClient(context.Background(), config.PubSubConfig{ProjectID: "libris-test"}, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = conn.Close()
		_ = srv.Close()
	})
	return client, srv
}

func TestPubSubClient_KeepsOrphanEventsPublishedBeforeSubscribe(t *testing.T) {
	client, srv := newFakePubSub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event := Event{
		Type:       EventAssetOrphaned,
		AssetKey:   "01HZX.png",
		OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	data, attrs, err := event.Encode()
	require.NoError(t, err)

	id, err := client.Publish(ctx, ChannelOrphanedAssets, data, attrs)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, srv.Messages(), 1)

	exists, err := client.client.Subscription("assets.orphaned-sub").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	received := make(chan Event, 1)
	err = client.Subscribe(ctx, ChannelOrphanedAssets, func(ctx context.Context, msg Message) error {
		decoded, err := DecodeEvent(msg)
		if err != nil {
			return err
		}
		assert.Equal(t, EventAssetOrphaned, msg.Attributes["type"])
		received <- decoded
		cancel()
		return nil
	})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, event, got)
	default:
		t.Fatal("event published before subscribe was not delivered")
	}
}

func TestPubSubClient_BroadcastChannelsHaveNoSubscription(t *testing.T) {
	client, _ := newFakePubSub(t)
	ctx := context.Background()

	data, attrs, err := Event{Type: EventRoleGranted, UserID: 2, Role: "admin"}.Encode()
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = client.Publish(ctx, ChannelAuthEvents, data, attrs)
		require.NoError(t, err)
	}

	exists, err := client.client.Topic(ChannelAuthEvents).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = client.client.Subscription("auth.events-sub").Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	client.mu.Lock()
	assert.Len(t, client.topics, 1)
	assert.Empty(t, client.subs)
	client.mu.Unlock()
}

func TestPubSubClient_ExistingResources(t *testing.T) {
	client, srv := newFakePubSub(t)
	ctx := context.Background()

	// A topic left by an earlier run is reused.
	topic, err := client.client.CreateTopic(ctx, ChannelOrphanedAssets)
	require.NoError(t, err)
	topic.Stop()

	_, err = client.Publish(ctx, ChannelOrphanedAssets, []byte(`{}`), nil)
	require.NoError(t, err)
	_, err = client.Publish(ctx, ChannelOrphanedAssets, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Len(t, srv.Messages(), 2)
}

func TestPubSubClient_Validation(t *testing.T) {
	client, _ := newFakePubSub(t)

	_, err := client.Publish(context.Background(), " ", nil, nil)
	assert.ErrorContains(t, err, "channel is required")
	err = client.Subscribe(context.Background(), "", func(context.Context, Message) error { return nil })
	assert.ErrorContains(t, err, "channel is required")
	assert.Equal(t, "assets.orphaned-sub", client.subscriptionName(ChannelOrphanedAssets))
}
