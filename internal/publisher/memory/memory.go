// Package memory implements an in-process Publisher for tests and runs
// without a broker.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one captured publication.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher records published events in order.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
}

// New creates an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish captures the JSON-encoded payload and returns a synthetic ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event for %s: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.messages = append(p.messages, Message{Topic: topic, Payload: data})
	return fmt.Sprintf("mem-%d", p.nextID), nil
}

// Messages returns captured publications for the topic, all when topic is
// empty.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
