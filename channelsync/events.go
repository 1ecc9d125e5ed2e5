package channelsync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of events the engine emits. Consumers switch on
// the kind instead of reflecting over type names.
type EventKind int

const (
	KindProductSynchronized EventKind = iota
	KindInventorySynchronized
	KindPricingSynchronized
)

var eventKindNames = map[EventKind]string{
	KindProductSynchronized:   "ChannelProductSynchronized",
	KindInventorySynchronized: "ChannelInventorySynchronized",
	KindPricingSynchronized:   "ChannelPricingSynchronized",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Event carries the changed fields of one successful synchronization. The
// engine does not decide how events are transported; the injected Publisher
// does.
type Event struct {
	ID               string
	Kind             EventKind
	ProductID        string
	ChannelID        string
	Changes          map[string]any
	ConflictDetected bool
	OccurredAt       time.Time
}

// Publisher consumes synchronization events. Implementations own transport
// and delivery semantics.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NoOpPublisher drops all events. It is the default when no publisher is
// injected.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(ctx context.Context, ev Event) error { return nil }

func newEvent(kind EventKind, res *SyncResult) Event {
	return Event{
		ID:               uuid.NewString(),
		Kind:             kind,
		ProductID:        res.ProductID,
		ChannelID:        res.ChannelID,
		Changes:          res.Changes,
		ConflictDetected: res.ConflictDetected,
		OccurredAt:       res.Timestamp,
	}
}
