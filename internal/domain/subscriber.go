package domain

import "strings"

// Protocol is the delivery channel for a subscriber endpoint.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolEmail Protocol = "email"
	ProtocolSMS   Protocol = "sms"
	ProtocolPush  Protocol = "push"
)

func (p Protocol) IsValid() bool {
	switch p {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolEmail, ProtocolSMS, ProtocolPush:
		return true
	}
	return false
}

// Protocols returns every valid protocol value.
func Protocols() []Protocol {
	return []Protocol{ProtocolHTTP, ProtocolHTTPS, ProtocolEmail, ProtocolSMS, ProtocolPush}
}

// PendingConfirmation is the sentinel subscription ID assigned to a
// subscription that has not yet been confirmed by its owner. Records
// carrying it must never appear in a resolvable subscriber set.
const PendingConfirmation = "PendingConfirmation"

// SubscriberRecord identifies one endpoint subscribed to a topic.
// Immutable after construction.
type SubscriberRecord struct {
	Protocol       Protocol `json:"protocol"`
	Endpoint       string   `json:"endpoint"`
	SubscriptionID string   `json:"subscription_id"`
}

// Confirmed reports whether the record belongs to a confirmed subscription.
func (r SubscriberRecord) Confirmed() bool {
	return r.SubscriptionID != PendingConfirmation
}

// TopicSubscriberSet maps subscription ID to record for one topic.
// Produced in full by a single bulk fetch; read-shared, never mutated.
type TopicSubscriberSet map[string]SubscriberRecord

// TopicOfSubscription derives the owning topic ID from a subscription ID.
// By convention subscription IDs are "<topicID>:<suffix>".
func TopicOfSubscription(subscriptionID string) (string, bool) {
	idx := strings.LastIndexByte(subscriptionID, ':')
	if idx <= 0 {
		return "", false
	}
	return subscriptionID[:idx], true
}
