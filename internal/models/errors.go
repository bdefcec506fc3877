package models

import "errors"

// Request-scoped failures; none of them changes session state.
var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrInvalidEventPayload     = errors.New("invalid event payload")
	ErrUnsupportedEventType    = errors.New("unsupported event type")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrUnknownStatus           = errors.New("unknown recording status")
	ErrRateLimited             = errors.New("event rate limit exceeded")
)

var (
	// ErrInjectionExhausted means every strategy failed verification on every
	// attempt. The session keeps recording in a degraded mode.
	ErrInjectionExhausted = errors.New("injection exhausted")
	ErrSessionLimit       = errors.New("too many active sessions")
	ErrSessionExists      = errors.New("session already exists")
)
