// Package memory keeps published job events in memory. It backs the event
// stream when no Pub/Sub project is configured and doubles as a test double.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher stores the most recent payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	capacity int
	seq      int
	err      error
	logger   *zap.Logger
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithCapacity bounds how many messages are retained; older ones are dropped.
func WithCapacity(n int) Option {
	return func(p *Publisher) { p.capacity = n }
}

// WithLogger logs every publish at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a memory Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FailWith makes subsequent publishes return err. A nil err restores normal behavior.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	if p.capacity > 0 && len(p.messages) > p.capacity {
		p.messages = append([]PublishedMessage(nil), p.messages[len(p.messages)-p.capacity:]...)
	}
	p.logger.Debug("event published", zap.String("topic", topic), zap.String("id", id), zap.Any("payload", payload))
	return id, nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Topic returns the retained publishes sent to topic.
func (p *Publisher) Topic(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Close is a no-op.
func (p *Publisher) Close() error { return nil }
