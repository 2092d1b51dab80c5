package mq

import (
	"encoding/json"
	"time"
)

// Channels events are published on.
const (
	ChannelLibraryEvents  = "library.events"
	ChannelAuthEvents     = "auth.events"
	ChannelOrphanedAssets = "assets.orphaned"
)

// IsBroadcast reports whether channel carries notifications for outside
// consumers only. The sweeper is the one in-process consumer and it reads
// ChannelOrphanedAssets.
func IsBroadcast(channel string) bool {
	return channel == ChannelLibraryEvents || channel == ChannelAuthEvents
}

// Event types.
const (
	EventLibraryCreated = "library.created"
	EventLibraryUpdated = "library.updated"
	EventLibraryDeleted = "library.deleted"
	EventRoleGranted    = "auth.role_granted"
	EventAssetOrphaned  = "asset.orphaned"
)

// Event is the JSON body of every published message.
type Event struct {
	Type       string    `json:"type"`
	RecordID   int       `json:"record_id,omitempty"`
	UserID     int       `json:"user_id,omitempty"`
	Role       string    `json:"role,omitempty"`
	AssetKey   string    `json:"asset_key,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Encode marshals the event and returns the message attributes for it.
func (e Event) Encode() ([]byte, map[string]string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, nil, err
	}
	return data, map[string]string{"type": e.Type}, nil
}

// DecodeEvent parses a message body produced by Event.Encode.
func DecodeEvent(msg Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}
