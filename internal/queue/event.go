// Package queue defines message payloads exchanged over the message broker
// together with the publisher and consumer used to move them.
package queue

import "time"

const (
	// EventsExchange is the topic exchange carrying account lifecycle events.
	EventsExchange = "identity.events"
	// OTPDispatchQueue is the durable work queue drained by the notifier.
	OTPDispatchQueue = "otp.dispatch"

	KeyUserRegistered = "user.registered"
	KeyUserLinked     = "user.linked"
	KeyUserDeleted    = "user.deleted"
)

// OTPDispatchEvent asks the notifier to deliver a one-time code. It carries
// the code itself, so the queue must be treated as sensitive.
type OTPDispatchEvent struct {
	Channel  string    `json:"channel"` // "email" or "sms"
	To       string    `json:"to"`
	Code     string    `json:"code"`
	Purpose  string    `json:"purpose"` // "login" or "register"
	IssuedAt time.Time `json:"issued_at"`
}

// UserEvent is published on EventsExchange when an account is created,
// linked to a federated provider, or deleted.
type UserEvent struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	Provider   string    `json:"auth_provider,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
