// Package transport abstracts outbound user messaging away from the
// services. The telegram subpackage is the production implementation.
package transport

import "context"

// Message is one outbound notification. Text is HTML.
type Message struct {
	Text string
	// Silent delivers without a client-side sound.
	Silent bool
}

// Transport delivers a message to a user. Implementations are expected to
// honor ctx cancellation and apply their own rate limiting.
type Transport interface {
	Send(ctx context.Context, userID int64, msg Message) error
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, userID int64, msg Message) error

func (f Func) Send(ctx context.Context, userID int64, msg Message) error {
	return f(ctx, userID, msg)
}
