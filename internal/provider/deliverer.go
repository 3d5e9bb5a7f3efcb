package provider

import (
	"context"

	"github.com/topichub/delivery-engine/internal/domain"
)

// Outcome classifies one delivery attempt.
type Outcome int

const (
	// OutcomeDelivered: the endpoint accepted the notification.
	OutcomeDelivered Outcome = iota
	// OutcomeTransient: the endpoint was temporarily unreachable; the
	// attempt should be retried with backoff.
	OutcomeTransient
	// OutcomePermanent: the endpoint rejected definitively; no retry.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeTransient:
		return "transient-failure"
	case OutcomePermanent:
		return "permanent-failure"
	}
	return "unknown"
}

// Attempt carries everything a deliverer needs for one subscriber.
type Attempt struct {
	Message        *domain.Message
	User           *domain.User
	Protocol       domain.Protocol
	Endpoint       string
	SubscriptionID string
}

// Deliverer performs the actual network delivery for one (protocol,
// endpoint) pair and classifies the result. An attempt that times out must
// be reported as OutcomeTransient. The error, when non-nil, carries detail
// for logging; the Outcome alone drives scheduling.
type Deliverer interface {
	Deliver(ctx context.Context, a Attempt) (Outcome, error)
}
