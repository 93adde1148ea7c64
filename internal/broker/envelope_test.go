package broker

import (
	"context"
	"encoding/json"
	"testing"
)

func TestEnvelopeKeyFallsBackToWallet(t *testing.T) {
	env := &Envelope{Version: Version, Kind: "Tx", Wallet: "hot", TxID: "abc"}
	if got := env.Key(); got != "abc" {
		t.Fatalf("Key=%q want %q", got, "abc")
	}
	env.TxID = ""
	if got := env.Key(); got != "hot" {
		t.Fatalf("Key=%q want %q", got, "hot")
	}
}

func TestEnvelopeEncode(t *testing.T) {
	env := &Envelope{
		Version: Version,
		Kind:    "TxConfirmed",
		Wallet:  "hot",
		TxID:    "abc",
		Seq:     7,
		Height:  123,
		Payload: json.RawMessage(`{"txid":"abc"}`),
	}
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got Envelope
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Version != Version || got.Kind != "TxConfirmed" || got.Seq != 7 || got.TxID != "abc" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestOpenDriverSelection(t *testing.T) {
	ctx := context.Background()

	br, err := Open(ctx, Config{Driver: "none"})
	if err != nil || br != nil {
		t.Fatalf("driver none: br=%v err=%v", br, err)
	}
	br, err = Open(ctx, Config{})
	if err != nil || br != nil {
		t.Fatalf("empty driver: br=%v err=%v", br, err)
	}

	if _, err := Open(ctx, Config{Driver: "kafka"}); err == nil {
		t.Fatalf("kafka without url accepted")
	}
	if _, err := Open(ctx, Config{Driver: "kafka", URL: "localhost:9092"}); err == nil {
		t.Fatalf("kafka without topic accepted")
	}
	if _, err := Open(ctx, Config{Driver: "zmq", URL: "x", Topic: "t"}); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}
