// Package broker delivers wallet index events to an external message
// stream. Kafka, NATS and RabbitMQ adapters each sit behind their build tag
// with a stub in the default build, so broker-less deployments carry none of
// the client libraries.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Broker publishes envelopes to one topic. Adapters encode the envelope and
// map its Key to the transport's partitioning primitive.
type Broker interface {
	Publish(ctx context.Context, env *Envelope) error
	Close() error
}

type Config struct {
	Driver string
	URL    string
	Topic  string
}

// Open resolves the configured driver. An empty or "none" driver returns a
// nil Broker: event publishing is disabled.
func Open(ctx context.Context, cfg Config) (Broker, error) {
	_ = ctx

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none":
		return nil, nil
	}

	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("broker: url is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("broker: topic is required")
	}

	switch driver {
	case "kafka":
		return openKafka(cfg)
	case "nats":
		return openNATS(cfg)
	case "rabbitmq":
		return openRabbitMQ(cfg)
	default:
		return nil, fmt.Errorf("broker: unsupported driver %q", cfg.Driver)
	}
}
