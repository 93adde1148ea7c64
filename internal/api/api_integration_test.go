//go:build integration

package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/walletkit/txindex/internal/kv/postgres"
	"github.com/walletkit/txindex/internal/testutil"
	"github.com/walletkit/txindex/internal/txdb"
)

// Exercises the full HTTP surface against the postgres kv driver.
func TestAPIOverPostgres(t *testing.T) {
	baseURL := os.Getenv("TXINDEX_TEST_PG_URL")
	if baseURL == "" {
		t.Skip("set TXINDEX_TEST_PG_URL to run postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	tp, err := testutil.OpenTestPostgres(ctx, baseURL)
	if err != nil {
		t.Fatalf("OpenTestPostgres: %v", err)
	}
	defer func() { _ = tp.Close(context.Background()) }()

	st, err := postgres.Open(ctx, tp.BaseURL, tp.Schema)
	if err != nil {
		t.Fatalf("postgres.Open: %v", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	reg, err := txdb.NewRegistry(st, txdb.RegistryOptions{Params: &chaincfg.RegressionNetParams})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	apiServer, err := New(reg)
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	srv := httptest.NewServer(apiServer.Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/v1/wallets", `{"wallet_id":"hot"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert wallet: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	addrHash := bytes.Repeat([]byte{0x55}, 20)
	resp = postJSON(t, srv.URL+"/v1/wallets/hot/addresses",
		fmt.Sprintf(`{"addr_hash":"%s","account":0}`, hex.EncodeToString(addrHash)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add address: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	txHex, txid := coinbaseHex(t, addrHash, 25_0000_0000)
	var blockHash chainhash.Hash
	blockHash[0] = 0xdd
	resp = postJSON(t, srv.URL+"/v1/wallets/hot/tx",
		fmt.Sprintf(`{"tx_hex":"%s","ps":%d,"block":{"hash":"%s","height":3,"index":0,"time":%d}}`,
			txHex, time.Now().Unix(), blockHash.String(), time.Now().Unix()))
	var insertResp struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&insertResp); err != nil {
		t.Fatalf("decode insert response: %v", err)
	}
	resp.Body.Close()
	if insertResp.Status != "added" {
		t.Fatalf("insert status=%q want %q", insertResp.Status, "added")
	}

	resp, err = http.Get(srv.URL + "/v1/wallets/hot/tx/" + txid)
	if err != nil {
		t.Fatalf("GET tx: %v", err)
	}
	var rec struct {
		TxID   string `json:"txid"`
		Height int32  `json:"height"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode tx response: %v", err)
	}
	resp.Body.Close()
	if rec.TxID != txid || rec.Height != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
