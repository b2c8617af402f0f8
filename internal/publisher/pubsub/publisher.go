// Package pubsub implements a Google Cloud Pub/Sub publisher for completion
// notifications.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// Publisher resolves topics on a shared Pub/Sub client and publishes JSON
// payloads. Topic handles batch internally, so they are cached per name and
// stopped on Close.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher on an existing client. The Publisher takes
// ownership of the client and closes it.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: pubsub client is required", job.ErrInvalidConfig)
	}
	return &Publisher{
		client: client,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// VerifyTopic confirms the topic exists, so a typo fails at startup instead
// of on the first terminal event.
func (p *Publisher) VerifyTopic(ctx context.Context, name string) error {
	ok, err := p.topic(name).Exists(ctx)
	if err != nil {
		return fmt.Errorf("check pubsub topic %q: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("pubsub topic %q does not exist", name)
	}
	return nil
}

// Publish marshals the payload to JSON and publishes it. The message
// attributes carry the trace context for downstream consumers.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: make(map[string]string),
	}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending publishes and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// attributeCarrier implements propagation.TextMapCarrier over Pub/Sub
// message attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
