// Package bus abstracts the ordered, partitioned, at-least-once event
// channel connecting bid intake, settlement and fan-out.
package bus

import "context"

// Message is a single event on a topic. Messages with the same Key land on
// the same partition and are handled in publish order.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Handler processes one message. A returned error is logged by the
// subscriber; the message is still acknowledged so consumption advances.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// Subscriber consumes a topic as a member of a consumer group. Each group
// sees every message once; members of one group share partitions.
// Subscribe blocks until ctx is done or the subscription fails.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, h Handler) error
}

// Bus is a Publisher and Subscriber with a lifecycle.
type Bus interface {
	Publisher
	Subscriber
	Ping(ctx context.Context) error
	Close() error
}
