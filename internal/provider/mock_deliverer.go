package provider

import (
	"context"
	"fmt"
	"sync"
)

// MockDeliverer is a scriptable in-memory Deliverer for unit tests.
// Outcomes are consumed per subscription ID in order; once a script is
// exhausted (or when none exists) every attempt is delivered.
type MockDeliverer struct {
	mu      sync.Mutex
	scripts map[string][]Outcome
	calls   map[string]int
}

func NewMockDeliverer() *MockDeliverer {
	return &MockDeliverer{
		scripts: make(map[string][]Outcome),
		calls:   make(map[string]int),
	}
}

// Script sets the outcome sequence for one subscription ID.
func (m *MockDeliverer) Script(subscriptionID string, outcomes ...Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[subscriptionID] = outcomes
}

func (m *MockDeliverer) Deliver(_ context.Context, a Attempt) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[a.SubscriptionID]++

	script := m.scripts[a.SubscriptionID]
	if len(script) == 0 {
		return OutcomeDelivered, nil
	}
	next := script[0]
	m.scripts[a.SubscriptionID] = script[1:]
	if next == OutcomeDelivered {
		return next, nil
	}
	return next, fmt.Errorf("scripted %s for %s", next, a.SubscriptionID)
}

// Calls reports how many delivery attempts were made for the subscription.
func (m *MockDeliverer) Calls(subscriptionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[subscriptionID]
}

var _ Deliverer = (*MockDeliverer)(nil)
