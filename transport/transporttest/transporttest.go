// Package transporttest holds stubs shared by the transport package tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a transport.Config backed by plain fields.
type Config struct {
	PubSubSystem       string
	KafkaBrokers       []string
	KafkaClientID      string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *Config) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string      { return c.KafkaClientID }
func (c *Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Publisher records every published message.
type Publisher struct {
	mu       sync.Mutex
	Err      error
	Messages map[string][]*message.Message
	closed   bool
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Messages == nil {
		p.Messages = map[string][]*message.Message{}
	}
	p.Messages[topic] = append(p.Messages[topic], messages...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Published returns a copy of the messages sent to topic.
func (p *Publisher) Published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.Messages[topic]...)
}

// Closed reports whether Close was called.
func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Subscriber hands out channels that never deliver.
type Subscriber struct{}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *Subscriber) Close() error { return nil }
