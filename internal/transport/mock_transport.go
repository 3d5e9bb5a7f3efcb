package transport

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/topichub/delivery-engine/internal/domain"
)

// MockTransport is a hand-written, in-memory Transport for unit tests.
// Messages move from the visible queue to an in-flight map on Receive and
// back via Requeue (simulated visibility-timeout expiry).
type MockTransport struct {
	mu       sync.Mutex
	queues   map[string][]string          // visible bodies per queue
	inflight map[string]inflightMessage   // by receipt handle
	deletes  map[string]int               // delete count per receipt handle

	ensureCalls int

	// Optional error overrides — set in tests to simulate failure paths.
	ReceiveErr error
	DeleteErr  error
	URLForErr  error
}

type inflightMessage struct {
	queueName string
	body      string
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		queues:   make(map[string][]string),
		inflight: make(map[string]inflightMessage),
		deletes:  make(map[string]int),
	}
}

// Push seeds a visible message onto the named queue.
func (m *MockTransport) Push(queueName, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[queueName]; !ok {
		m.queues[queueName] = nil
	}
	m.queues[queueName] = append(m.queues[queueName], body)
}

func (m *MockTransport) Receive(_ context.Context, queueURL string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReceiveErr != nil {
		return nil, m.ReceiveErr
	}
	name := queueURL[len(urlScheme):]
	q := m.queues[name]
	if len(q) == 0 {
		return nil, nil
	}
	body := q[0]
	m.queues[name] = q[1:]
	receipt := uuid.NewString()
	m.inflight[receipt] = inflightMessage{queueName: name, body: body}
	return &Message{Body: body, ReceiptHandle: receipt}, nil
}

func (m *MockTransport) Delete(_ context.Context, _, receiptHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.deletes[receiptHandle]++
	delete(m.inflight, receiptHandle)
	return nil
}

func (m *MockTransport) EnsureQueues(_ context.Context, prefix string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureCalls++
	for i := 0; i < count; i++ {
		name := prefix + strconv.Itoa(i)
		if _, ok := m.queues[name]; !ok {
			m.queues[name] = nil
		}
	}
	return nil
}

func (m *MockTransport) URLFor(_ context.Context, queueName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.URLForErr != nil {
		return "", m.URLForErr
	}
	if _, ok := m.queues[queueName]; !ok {
		return "", domain.ErrNotFound
	}
	return urlScheme + queueName, nil
}

// Requeue makes an in-flight message visible again, as the real transport
// would after its visibility timeout expires.
func (m *MockTransport) Requeue(receiptHandle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.inflight[receiptHandle]
	if !ok {
		return
	}
	delete(m.inflight, receiptHandle)
	m.queues[msg.queueName] = append(m.queues[msg.queueName], msg.body)
}

// QueueLen reports the number of visible messages on the queue.
func (m *MockTransport) QueueLen(queueName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[queueName])
}

// InflightLen reports the number of received-but-unacknowledged messages.
func (m *MockTransport) InflightLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// TotalDeletes reports how many delete calls were made across all handles.
func (m *MockTransport) TotalDeletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.deletes {
		total += n
	}
	return total
}

// DeleteCount reports how many times one receipt handle was deleted.
func (m *MockTransport) DeleteCount(receiptHandle string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes[receiptHandle]
}

// EnsureCalls reports how many queue reconciliations were requested.
func (m *MockTransport) EnsureCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureCalls
}

var _ Transport = (*MockTransport)(nil)
