// Package transport is the messaging boundary: an interface over the
// XMTP node helper plus a null implementation for local-only runs. The
// rest of the runtime never sees subprocess details.
package transport

import (
	"context"
	"time"
)

// Message is one inbound operator message.
type Message struct {
	From       string
	Text       string
	ReceivedAt time.Time
}

// Transport delivers inbound messages on a channel and sends outbound
// ones. Implementations own their own lifecycle; Close terminates any
// helper process.
type Transport interface {
	Start(ctx context.Context) error
	Messages() <-chan Message
	Send(ctx context.Context, to, message string) error
	Address() string
	Close() error
}

// Null is the local-only transport: no inbound stream, sends fail.
type Null struct {
	msgs chan Message
}

func NewNull() *Null { return &Null{msgs: make(chan Message)} }

func (n *Null) Start(context.Context) error { return nil }

func (n *Null) Messages() <-chan Message { return n.msgs }

func (n *Null) Send(_ context.Context, to, _ string) error {
	return &NotConnectedError{To: to}
}

func (n *Null) Address() string { return "" }

func (n *Null) Close() error { return nil }

// NotConnectedError reports a send attempted without a live transport.
type NotConnectedError struct {
	To string
}

func (e *NotConnectedError) Error() string {
	return "no transport connected; cannot reach " + e.To
}
