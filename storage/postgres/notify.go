package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/commercekit/channelsync/channelsync"
	"github.com/commercekit/channelsync/logging"
)

// notifyChannel is the pg_notify channel carrying synchronization events.
const notifyChannel = "channelsync_events"

// EventPayload is the wire form of a synchronization event on the NOTIFY
// channel.
type EventPayload struct {
	ID               string         `json:"id"`
	Kind             string         `json:"kind"`
	ProductID        string         `json:"product_id"`
	ChannelID        string         `json:"channel_id"`
	Changes          map[string]any `json:"changes,omitempty"`
	ConflictDetected bool           `json:"conflict_detected"`
	OccurredAt       time.Time      `json:"occurred_at"`
}

// Notifier publishes synchronization events over PostgreSQL NOTIFY. It
// implements channelsync.Publisher, so subscribers on other processes see
// events without a separate broker.
type Notifier struct {
	store *Store
}

// NewNotifier wraps a Store's connection for event publication.
func NewNotifier(store *Store) *Notifier {
	return &Notifier{store: store}
}

func (n *Notifier) Publish(ctx context.Context, ev channelsync.Event) error {
	payload, err := json.Marshal(EventPayload{
		ID:               ev.ID,
		Kind:             ev.Kind.String(),
		ProductID:        ev.ProductID,
		ChannelID:        ev.ChannelID,
		Changes:          ev.Changes,
		ConflictDetected: ev.ConflictDetected,
		OccurredAt:       ev.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}

	_, err = n.store.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(payload))
	if err != nil {
		return fmt.Errorf("notifying %s: %w", notifyChannel, err)
	}
	return nil
}

// EventHandler consumes decoded event payloads from the listener.
type EventHandler func(payload EventPayload) error

// Listener receives synchronization events over PostgreSQL LISTEN, with
// automatic reconnection handled by pq.Listener.
type Listener struct {
	logger   *logging.Logger
	listener *pq.Listener
	closed   int32

	mu       sync.RWMutex
	handlers []EventHandler

	done chan struct{}
}

// NewListener builds a Listener on its own connection; it does not share the
// store's pool because LISTEN holds a session open.
func NewListener(connectionString string, logger *logging.Logger) (*Listener, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	l := &Listener{
		logger: logger.WithComponent("pg-listener"),
		done:   make(chan struct{}),
	}
	l.listener = pq.NewListener(connectionString, 5*time.Second, 30*time.Second, l.connectionEvent)
	return l, nil
}

func (l *Listener) connectionEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		l.logger.Debug("connected for LISTEN/NOTIFY")
	case pq.ListenerEventDisconnected:
		l.logger.Warn("disconnected from postgres", "error", err)
	case pq.ListenerEventReconnected:
		l.logger.Info("reconnected to postgres")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("connection attempt failed", "error", err)
	}
}

// Subscribe registers a handler for incoming events.
func (l *Listener) Subscribe(handler EventHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
}

// Start subscribes to the event channel and consumes notifications until the
// context is cancelled or the listener is closed.
func (l *Listener) Start(ctx context.Context) error {
	if atomic.LoadInt32(&l.closed) == 1 {
		return fmt.Errorf("listener is closed")
	}
	if err := l.listener.Listen(notifyChannel); err != nil {
		return fmt.Errorf("listening on %s: %w", notifyChannel, err)
	}
	go l.loop(ctx)
	return nil
}

func (l *Listener) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case notification := <-l.listener.Notify:
			if notification != nil {
				l.dispatch(notification.Extra)
			}
		case <-time.After(90 * time.Second):
			// Keep the session alive across idle periods.
			if err := l.listener.Ping(); err != nil {
				l.logger.Warn("listener ping failed", "error", err)
			}
		}
	}
}

func (l *Listener) dispatch(raw string) {
	var payload EventPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		l.logger.Warn("dropping malformed event payload", "error", err)
		return
	}

	l.mu.RLock()
	handlers := make([]EventHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(payload); err != nil {
			l.logger.Warn("event handler failed",
				"event_id", payload.ID,
				"error", err)
		}
	}
}

// Close shuts the listener down. Safe to call more than once.
func (l *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	close(l.done)
	return l.listener.Close()
}
