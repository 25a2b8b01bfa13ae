package telegram

import (
	"fmt"
	"sort"
	"sync"
)

// Audiences a chat can subscribe to.
const (
	AudienceSubscribers = "subscribers"
	AudienceDebug       = "debug"
)

// SubscriberStore persists subscriptions.
type SubscriberStore interface {
	AddSubscriber(chatID int64, audience string) error
	RemoveSubscriber(chatID int64, audience string) error
	ListSubscribers(audience string) ([]int64, error)
}

// Subscribers is an in-memory view of every audience, written through to a
// SubscriberStore when one is set.
type Subscribers struct {
	mu      sync.RWMutex
	store   SubscriberStore
	members map[string]map[int64]struct{}
}

// NewSubscribers creates an empty set. store may be nil.
func NewSubscribers(store SubscriberStore) *Subscribers {
	return &Subscribers{
		store:   store,
		members: make(map[string]map[int64]struct{}),
	}
}

// LoadSubscribers builds a set from everything already persisted in store.
func LoadSubscribers(store SubscriberStore) (*Subscribers, error) {
	s := NewSubscribers(store)
	for _, audience := range []string{AudienceSubscribers, AudienceDebug} {
		ids, err := store.ListSubscribers(audience)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", audience, err)
		}
		for _, id := range ids {
			s.set(audience)[id] = struct{}{}
		}
	}
	return s, nil
}

func (s *Subscribers) set(audience string) map[int64]struct{} {
	m, ok := s.members[audience]
	if !ok {
		m = make(map[int64]struct{})
		s.members[audience] = m
	}
	return m
}

// Add subscribes chatID to audience.
func (s *Subscribers) Add(chatID int64, audience string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if err := s.store.AddSubscriber(chatID, audience); err != nil {
			return err
		}
	}
	s.set(audience)[chatID] = struct{}{}
	return nil
}

// Remove unsubscribes chatID from audience.
func (s *Subscribers) Remove(chatID int64, audience string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if err := s.store.RemoveSubscriber(chatID, audience); err != nil {
			return err
		}
	}
	delete(s.set(audience), chatID)
	return nil
}

// List returns the members of audience in ascending order.
func (s *Subscribers) List(audience string) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.members[audience]))
	for id := range s.members[audience] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the size of audience.
func (s *Subscribers) Count(audience string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[audience])
}
