//go:build nats

package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type natsBroker struct {
	nc    *nats.Conn
	topic string
}

func openNATS(cfg Config) (Broker, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("txindex"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("broker: nats connect: %w", err)
	}
	return &natsBroker{nc: nc, topic: cfg.Topic}, nil
}

func (b *natsBroker) Publish(ctx context.Context, env *Envelope) error {
	_ = ctx

	value, err := env.Encode()
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: b.topic,
		Data:    value,
		Header:  nats.Header{},
	}
	// NATS has no partition key; carry the routing facts as headers so
	// subscribers can filter without decoding the body.
	msg.Header.Set("Txindex-Key", env.Key())
	msg.Header.Set("Txindex-Wallet", env.Wallet)
	msg.Header.Set("Txindex-Kind", env.Kind)
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("broker: nats publish: %w", err)
	}
	return nil
}

func (b *natsBroker) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	b.nc.Close()
	return nil
}
