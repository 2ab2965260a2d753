package privatevc

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventChannelCreated     EventType = "channel_created"
	EventChannelDeleted     EventType = "channel_deleted"
	EventCreationDeferred   EventType = "creation_deferred"
	EventOwnerTransferred   EventType = "owner_transferred"
	EventPermissionsUpdated EventType = "permissions_updated"
	EventUserLimitChanged   EventType = "user_limit_changed"
	EventMemberDisconnected EventType = "member_disconnected"
)

// Event describes a state transition of a managed channel.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ChannelID string    `json:"channel_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// broadcaster fans events out to subscribers without ever blocking the
// lifecycle loop; slow subscribers miss events.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *broadcaster) publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
