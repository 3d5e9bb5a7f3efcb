package repository

import (
	"context"
	"sync"
	"time"

	"github.com/topichub/delivery-engine/internal/domain"
)

// MockSubscriptionStore is a hand-written, in-memory implementation of
// SubscriptionStore used in unit tests. No mock-generation library needed.
type MockSubscriptionStore struct {
	mu     sync.Mutex
	topics map[string][]domain.SubscriberRecord

	listCalls map[string]int
	getCalls  int

	// Optional error overrides — set in tests to simulate failure paths.
	ListErr error
	GetErr  error

	// ListDelay makes each bulk fetch take a while, widening the race
	// window for single-flight tests.
	ListDelay time.Duration
}

func NewMockSubscriptionStore() *MockSubscriptionStore {
	return &MockSubscriptionStore{
		topics:    make(map[string][]domain.SubscriberRecord),
		listCalls: make(map[string]int),
	}
}

// AddTopic registers a topic with the given subscriber records.
func (m *MockSubscriptionStore) AddTopic(topicID string, records ...domain.SubscriberRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics[topicID] = append(m.topics[topicID], records...)
}

// RemoveTopic deletes a topic entirely, as if it had been unsubscribed and
// torn down between enqueue and delivery.
func (m *MockSubscriptionStore) RemoveTopic(topicID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.topics, topicID)
}

// RemoveSubscription deletes one subscription from its topic.
func (m *MockSubscriptionStore) RemoveSubscription(topicID, subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.topics[topicID]
	for i, r := range records {
		if r.SubscriptionID == subscriptionID {
			m.topics[topicID] = append(records[:i:i], records[i+1:]...)
			return
		}
	}
}

func (m *MockSubscriptionStore) ListByTopic(_ context.Context, topicID string) ([]domain.SubscriberRecord, error) {
	m.mu.Lock()
	m.listCalls[topicID]++
	err := m.ListErr
	records, ok := m.topics[topicID]
	delay := m.ListDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrTopicNotFound
	}
	out := make([]domain.SubscriberRecord, len(records))
	copy(out, records)
	return out, nil
}

func (m *MockSubscriptionStore) Get(_ context.Context, subscriptionID string) (domain.SubscriberRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.GetErr != nil {
		return domain.SubscriberRecord{}, m.GetErr
	}
	for _, records := range m.topics {
		for _, r := range records {
			if r.SubscriptionID == subscriptionID {
				return r, nil
			}
		}
	}
	return domain.SubscriberRecord{}, domain.ErrNotFound
}

// ListCalls reports how many bulk fetches were issued for the topic.
func (m *MockSubscriptionStore) ListCalls(topicID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls[topicID]
}

// GetCalls reports how many point lookups were issued.
func (m *MockSubscriptionStore) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// MockUserStore is an in-memory UserStore for tests.
type MockUserStore struct {
	mu    sync.Mutex
	users map[string]domain.User

	GetErr error
}

func NewMockUserStore() *MockUserStore {
	return &MockUserStore{users: make(map[string]domain.User)}
}

func (m *MockUserStore) Add(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MockUserStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := u
	return &clone, nil
}

// MockHeartbeatStore records heartbeat writes for tests.
type MockHeartbeatStore struct {
	mu    sync.Mutex
	beats int

	BeatErr error
}

func NewMockHeartbeatStore() *MockHeartbeatStore {
	return &MockHeartbeatStore{}
}

func (m *MockHeartbeatStore) Beat(_ context.Context, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BeatErr != nil {
		return m.BeatErr
	}
	m.beats++
	return nil
}

func (m *MockHeartbeatStore) Beats() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beats
}
