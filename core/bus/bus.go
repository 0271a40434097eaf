// Package bus defines the publish/subscribe protocol spoken between the
// dispatcher, taxis, customers and map observers: the envelope, its
// subjects, the topic layout and the acceptance rules (freshness and
// session) every consumer applies.
package bus

import "context"

// Publisher sends envelopes to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, e Envelope) error
}

// Subscription delivers envelopes received on one topic until closed.
type Subscription interface {
	C() <-chan Envelope
	Close() error
}

// Subscriber opens subscriptions.
type Subscriber interface {
	Subscribe(topic string) (Subscription, error)
}

// Bus is a full duplex transport.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
