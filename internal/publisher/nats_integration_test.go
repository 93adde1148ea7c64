//go:build integration && nats

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/walletkit/txindex/internal/broker"
)

func TestPublisher_NATS(t *testing.T) {
	if os.Getenv("TXINDEX_TEST_DOCKER") == "" {
		t.Skip("set TXINDEX_TEST_DOCKER=1 to run broker integration tests")
	}

	natsURL := os.Getenv("TXINDEX_TEST_NATS_URL")
	if natsURL == "" {
		natsURL = "nats://127.0.0.1:14222"
	}

	topic := fmt.Sprintf("txindex.test.%d", time.Now().UnixNano())

	nc, err := nats.Connect(natsURL, nats.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync(topic)
	if err != nil {
		t.Fatalf("nats subscribe: %v", err)
	}
	_ = nc.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	br, err := broker.Open(ctx, broker.Config{Driver: "nats", URL: natsURL, Topic: topic})
	if err != nil {
		t.Fatalf("broker.Open: %v", err)
	}
	defer func() { _ = br.Close() }()

	reg, txid := seedRegistry(t)

	pub, err := New(reg, br, Config{PollInterval: 10 * time.Millisecond, BatchSize: 10})
	if err != nil {
		t.Fatalf("publisher.New: %v", err)
	}
	if err := pub.publishOnce(ctx); err != nil {
		t.Fatalf("publishOnce: %v", err)
	}

	msg, err := sub.NextMsg(10 * time.Second)
	if err != nil {
		t.Fatalf("nats NextMsg: %v", err)
	}

	var env broker.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Kind != "Tx" {
		t.Fatalf("env.kind=%q want %q", env.Kind, "Tx")
	}
	if env.Wallet != "hot" {
		t.Fatalf("env.wallet_id=%q want %q", env.Wallet, "hot")
	}
	if env.Height != 123 {
		t.Fatalf("env.height=%d want %d", env.Height, 123)
	}
	if env.TxID != txid {
		t.Fatalf("env.txid=%q want %q", env.TxID, txid)
	}
	if got := msg.Header.Get("Txindex-Key"); got != txid {
		t.Fatalf("Txindex-Key=%q want %q", got, txid)
	}
	if got := msg.Header.Get("Txindex-Wallet"); got != "hot" {
		t.Fatalf("Txindex-Wallet=%q want %q", got, "hot")
	}

	var payload struct {
		TxID string `json:"txid"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.TxID != txid {
		t.Fatalf("payload.txid=%q want %q", payload.TxID, txid)
	}
}
