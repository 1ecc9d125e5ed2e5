// Package memory provides an in-memory ChannelProductStore for tests and
// single-process deployments.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/commercekit/channelsync/channelsync"
	syncErrors "github.com/commercekit/channelsync/errors"
)

var (
	// ErrStoreClosed is returned by all operations after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrDuplicateRecord is returned by Put when the pair already exists.
	ErrDuplicateRecord = errors.New("record already exists")
)

// Store keeps channel products in a map guarded by an RWMutex. Guarded
// updates check the expected version under the write lock, so the
// compare-and-bump is atomic.
type Store struct {
	mu      sync.RWMutex
	records map[string]*channelsync.ChannelProduct
	closed  bool
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]*channelsync.ChannelProduct)}
}

func key(productID, channelID string) string {
	return productID + "\x00" + channelID
}

func (s *Store) Get(ctx context.Context, productID, channelID string) (*channelsync.ChannelProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, ErrStoreClosed)
	}
	cp, ok := s.records[key(productID, channelID)]
	if !ok {
		return nil, channelsync.ErrNotFound
	}
	return cp.Clone(), nil
}

func (s *Store) Put(ctx context.Context, cp *channelsync.ChannelProduct) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncErrors.NewStorageError(syncErrors.OpStore, ErrStoreClosed)
	}
	k := key(cp.ProductID, cp.ChannelID)
	if _, exists := s.records[k]; exists {
		return syncErrors.NewStorageError(syncErrors.OpStore, ErrDuplicateRecord)
	}
	stored := cp.Clone()
	stored.Version = 1
	s.records[k] = stored
	cp.Version = 1
	return nil
}

func (s *Store) Update(ctx context.Context, cp *channelsync.ChannelProduct, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncErrors.NewStorageError(syncErrors.OpStore, ErrStoreClosed)
	}
	k := key(cp.ProductID, cp.ChannelID)
	stored, ok := s.records[k]
	if !ok {
		return channelsync.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return syncErrors.ErrVersionConflict
	}
	next := cp.Clone()
	next.Version = stored.Version + 1
	s.records[k] = next
	cp.Version = next.Version
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}

// Len reports the number of stored records, for tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
