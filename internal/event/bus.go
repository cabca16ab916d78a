package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies a pipeline event.
type Type string

const (
	TypeAssetGroupCreated Type = "asset_group_created"
	TypeAssetGroupDeleted Type = "asset_group_deleted"
	TypeStageChanged      Type = "stage_changed"
	TypeJobDispatched     Type = "job_dispatched"
	TypeJobResolved       Type = "job_resolved"
	TypeJobStale          Type = "job_stale"
	TypeSightingCommitted Type = "sighting_committed"
)

// Event is one observable pipeline transition.
type Event struct {
	Type         Type            `json:"type"`
	AssetGroupID uuid.UUID       `json:"asset_group_guid,omitempty"`
	SightingID   uuid.UUID       `json:"sighting_guid,omitempty"`
	JobID        uuid.UUID       `json:"job_guid,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Filter defines criteria for receiving events.
type Filter struct {
	AssetGroupID uuid.UUID
	SightingID   uuid.UUID
	Types        []Type
}

// Bus defines the event bus interface.
type Bus interface {
	Publish(e Event)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type bus struct {
	subscribers map[chan Event]Filter
	mu          sync.RWMutex
}

// New creates a new event bus.
func New() Bus {
	return &bus{
		subscribers: make(map[chan Event]Filter),
	}
}

var defaultBus = New()

// Default returns the process-wide bus.
func Default() Bus {
	return defaultBus
}

func (b *bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if b.matches(filter, e) {
			select {
			case ch <- e:
			default:
				// drop rather than block a publisher
			}
		}
	}
}

func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (b *bus) matches(filter Filter, e Event) bool {
	if filter.AssetGroupID != uuid.Nil && filter.AssetGroupID != e.AssetGroupID {
		return false
	}
	if filter.SightingID != uuid.Nil && filter.SightingID != e.SightingID {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
