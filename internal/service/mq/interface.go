package mq

import "context"

// Message is a broker-neutral event envelope.
type Message struct {
	ID       string // broker id, e.g. a Redis Stream entry id or kafka offset
	Topic    string
	Key      string // partition key; events for one collector share a key
	Payload  []byte // JSON
	Metadata map[string]string
}

type Producer interface {
	// Publish sends payload. An empty key lets the broker pick a partition.
	Publish(ctx context.Context, topic string, key string, payload []byte) error
	Close() error
}

type Consumer interface {
	// Subscribe blocks until ctx ends. A handler error leaves the message
	// unacknowledged so it is redelivered.
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error
	Close() error
}
