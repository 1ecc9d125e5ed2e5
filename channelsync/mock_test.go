package channelsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	syncErrors "github.com/commercekit/channelsync/errors"
)

// memStore is an in-memory ChannelProductStore for tests. onUpdate, when set,
// runs before each guarded write so tests can inject concurrent writers.
type memStore struct {
	mu       sync.Mutex
	records  map[string]*ChannelProduct
	onUpdate func(st *memStore, cp *ChannelProduct)
	getErr   error
	updates  int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*ChannelProduct)}
}

func storeKey(productID, channelID string) string {
	return productID + "|" + channelID
}

func (s *memStore) Get(ctx context.Context, productID, channelID string) (*ChannelProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	cp, ok := s.records[storeKey(productID, channelID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cp.Clone(), nil
}

func (s *memStore) Put(ctx context.Context, cp *ChannelProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(cp.ProductID, cp.ChannelID)
	if _, exists := s.records[key]; exists {
		return fmt.Errorf("record already exists: %s", key)
	}
	stored := cp.Clone()
	stored.Version = 1
	s.records[key] = stored
	cp.Version = 1
	return nil
}

func (s *memStore) Update(ctx context.Context, cp *ChannelProduct, expectedVersion int64) error {
	if s.onUpdate != nil {
		hook := s.onUpdate
		s.onUpdate = nil
		hook(s, cp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	key := storeKey(cp.ProductID, cp.ChannelID)
	stored, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return syncErrors.ErrVersionConflict
	}
	next := cp.Clone()
	next.Version = stored.Version + 1
	s.records[key] = next
	cp.Version = next.Version
	return nil
}

func (s *memStore) Close() error { return nil }

// write bypasses version checks to simulate a concurrent writer.
func (s *memStore) write(cp *ChannelProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(cp.ProductID, cp.ChannelID)
	stored := cp.Clone()
	if prev, ok := s.records[key]; ok {
		stored.Version = prev.Version + 1
	} else {
		stored.Version = 1
	}
	s.records[key] = stored
}

func (s *memStore) get(productID, channelID string) *ChannelProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[storeKey(productID, channelID)].Clone()
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) last() Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// mapSource resolves product state from a fixed map.
type mapSource struct {
	products map[string]ProductState
}

func (s *mapSource) ProductState(ctx context.Context, productID string) (ProductState, error) {
	p, ok := s.products[productID]
	if !ok {
		return ProductState{}, fmt.Errorf("unknown product %s", productID)
	}
	return p, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func i64(v int64) *int64 { return &v }

func activeProduct(id string, price string, stock int64) ProductState {
	return ProductState{
		ProductID:     id,
		Active:        true,
		BasePrice:     dec(price),
		Currency:      "USD",
		StockQuantity: stock,
	}
}

func activeChannel(id string, multiplier string) ChannelState {
	return ChannelState{
		ChannelID:  id,
		Active:     true,
		Multiplier: dec(multiplier),
	}
}
