package domain

import "errors"

// Sentinel errors used throughout the engine.
// The consumer loop branches on these with errors.Is; everything else is
// logged and left for visibility-timeout redelivery.
var (
	ErrTopicNotFound   = errors.New("topic not found")
	ErrNotFound        = errors.New("not found")
	ErrMalformedJob    = errors.New("malformed fan-out job")
	ErrInternal        = errors.New("internal error")
	ErrNotInitialized  = errors.New("consumer not initialized")
	ErrPoolStopped     = errors.New("worker pool is stopped")
	ErrPoolSaturated   = errors.New("worker pool queue is at capacity")
	ErrInvalidProtocol = errors.New("invalid protocol: must be http, https, email, sms, or push")
)
