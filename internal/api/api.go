package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/walletkit/txindex/internal/txdb"
)

type Server struct {
	reg   *txdb.Registry
	token string
}

type Option func(*Server)

// WithBearerToken requires Authorization: Bearer <token> on every request.
func WithBearerToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

func New(reg *txdb.Registry, opts ...Option) (*Server, error) {
	if reg == nil {
		return nil, errors.New("api: registry is nil")
	}
	s := &Server{reg: reg}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/wallets", s.handleWallets)
	mux.HandleFunc("/v1/wallets/", s.handleWalletSubroutes)
	if s.token == "" {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(s.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	wallets, err := s.reg.List(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"status":  "ok",
		"wallets": len(wallets),
	})
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListWallets(w, r)
	case http.MethodPost:
		s.handleUpsertWallet(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWalletSubroutes(w http.ResponseWriter, r *http.Request) {
	// /v1/wallets/{wallet_id}/{op}[/{arg}]
	path := strings.TrimPrefix(r.URL.Path, "/v1/wallets/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	walletID := parts[0]
	if walletID == "" || !isSafeWalletID(walletID) {
		http.Error(w, "invalid wallet_id", http.StatusBadRequest)
		return
	}

	switch parts[1] {
	case "balance":
		s.handleBalance(w, r, walletID)
	case "history":
		s.handleHistory(w, r, walletID)
	case "pending":
		s.handlePending(w, r, walletID)
	case "coins":
		s.handleCoins(w, r, walletID)
	case "range":
		s.handleRange(w, r, walletID)
	case "tx":
		if len(parts) >= 3 && parts[2] != "" {
			s.handleTxByHash(w, r, walletID, parts[2])
			return
		}
		s.handleInsertTx(w, r, walletID)
	case "unconfirm":
		s.handleUnconfirm(w, r, walletID)
	case "abandon":
		s.handleAbandon(w, r, walletID)
	case "zap":
		s.handleZap(w, r, walletID)
	case "addresses":
		s.handleAddresses(w, r, walletID)
	case "events":
		s.handleEvents(w, r, walletID)
	default:
		http.NotFound(w, r)
	}
}

type walletRequest struct {
	WalletID string `json:"wallet_id"`
}

func (s *Server) handleUpsertWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.WalletID = strings.TrimSpace(req.WalletID)
	if req.WalletID == "" || !isSafeWalletID(req.WalletID) {
		http.Error(w, "invalid wallet_id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	info, err := s.reg.Upsert(ctx, req.WalletID)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "ok",
		"wallet_id":  info.ID,
		"created_at": info.CreatedAt,
	})
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	wallets, err := s.reg.List(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"wallets": wallets})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	var bal *txdb.Balance
	if acct, ok, errResp := accountQuery(w, r); errResp {
		return
	} else if ok {
		bal, err = db.GetAccountBalance(ctx, acct)
	} else {
		bal, err = db.GetBalance(ctx)
	}
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, bal)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	opts := queryOptions(r)
	var recs []*txdb.TxRecord
	if acct, ok, errResp := accountQuery(w, r); errResp {
		return
	} else if ok {
		recs, err = db.GetAccountHistory(ctx, acct, opts)
	} else {
		recs, err = db.GetHistory(ctx, opts)
	}
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"transactions": renderRecords(recs)})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	var recs []*txdb.TxRecord
	if acct, ok, errResp := accountQuery(w, r); errResp {
		return
	} else if ok {
		recs, err = db.GetAccountPending(ctx, acct)
	} else {
		recs, err = db.GetPending(ctx)
	}
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"transactions": renderRecords(recs)})
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	var coins []txdb.CoinEntry
	if acct, ok, errResp := accountQuery(w, r); errResp {
		return
	} else if ok {
		coins, err = db.GetAccountCoins(ctx, acct)
	} else {
		coins, err = db.GetCoins(ctx)
	}
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	type coinOut struct {
		TxID     string `json:"txid"`
		Vout     uint32 `json:"vout"`
		Height   int32  `json:"height"`
		Value    int64  `json:"value"`
		PkScript string `json:"pk_script"`
	}
	out := make([]coinOut, 0, len(coins))
	for _, c := range coins {
		out = append(out, coinOut{
			TxID:     c.Outpoint.Hash.String(),
			Vout:     c.Outpoint.Index,
			Height:   c.Coin.Height,
			Value:    int64(c.Coin.Value),
			PkScript: hex.EncodeToString(c.Coin.PkScript),
		})
	}

	writeJSON(w, map[string]any{"coins": out})
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	opts := queryOptions(r)
	var recs []*txdb.TxRecord
	if acct, ok, errResp := accountQuery(w, r); errResp {
		return
	} else if ok {
		recs, err = db.GetAccountRange(ctx, acct, opts)
	} else {
		recs, err = db.GetRange(ctx, opts)
	}
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"transactions": renderRecords(recs)})
}

type insertTxRequest struct {
	TxHex string `json:"tx_hex"`
	Ps    *int64 `json:"ps,omitempty"`
	Block *struct {
		Hash   string `json:"hash"`
		Height int32  `json:"height"`
		Index  int32  `json:"index"`
		Time   int64  `json:"time"`
	} `json:"block,omitempty"`
}

func (s *Server) handleInsertTx(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req insertTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	raw, err := hex.DecodeString(strings.TrimSpace(req.TxHex))
	if err != nil {
		http.Error(w, "invalid tx_hex", http.StatusBadRequest)
		return
	}
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		http.Error(w, "invalid transaction", http.StatusBadRequest)
		return
	}

	ps := time.Now()
	if req.Ps != nil {
		ps = time.Unix(*req.Ps, 0)
	}
	rec := txdb.NewTxRecord(&msg, ps)
	if req.Block != nil {
		block, err := chainhash.NewHashFromStr(req.Block.Hash)
		if err != nil {
			http.Error(w, "invalid block hash", http.StatusBadRequest)
			return
		}
		if req.Block.Height < 0 || req.Block.Time <= 0 {
			http.Error(w, "invalid block metadata", http.StatusBadRequest)
			return
		}
		rec.SetBlock(block, req.Block.Height, req.Block.Index, time.Unix(req.Block.Time, 0))
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	status, err := db.Add(ctx, rec, nil)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"status": status.String(),
		"txid":   rec.Hash.String(),
	})
}

func (s *Server) handleTxByHash(w http.ResponseWriter, r *http.Request, walletID, hashStr string) {
	hash, err := chainhash.NewHashFromStr(hashStr)
	if err != nil {
		http.Error(w, "invalid txid", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := db.GetTx(ctx, hash)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.Error(w, "unknown transaction", http.StatusNotFound)
			return
		}
		writeJSON(w, renderRecord(rec))
	case http.MethodDelete:
		rec, err := db.Remove(ctx, hash)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{
			"status":  "ok",
			"removed": rec != nil,
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type txidRequest struct {
	TxID string `json:"txid"`
}

func (s *Server) handleUnconfirm(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req txidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	hash, err := chainhash.NewHashFromStr(strings.TrimSpace(req.TxID))
	if err != nil {
		http.Error(w, "invalid txid", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	if err := db.Unconfirm(ctx, hash); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req txidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	hash, err := chainhash.NewHashFromStr(strings.TrimSpace(req.TxID))
	if err != nil {
		http.Error(w, "invalid txid", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	if err := db.Abandon(ctx, hash); err != nil {
		if errors.Is(err, txdb.ErrNotPending) {
			http.Error(w, "transaction is not pending", http.StatusBadRequest)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleZap(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Account    *int64 `json:"account,omitempty"`
		AgeSeconds int64  `json:"age_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.AgeSeconds < 0 {
		http.Error(w, "age_seconds must be >= 0", http.StatusBadRequest)
		return
	}

	account := int64(-1)
	if req.Account != nil {
		if *req.Account < 0 {
			http.Error(w, "invalid account", http.StatusBadRequest)
			return
		}
		account = *req.Account
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	removed, err := db.Zap(ctx, account, time.Duration(req.AgeSeconds)*time.Second)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"status":  "ok",
		"removed": removed,
	})
}

func (s *Server) handleAddresses(w http.ResponseWriter, r *http.Request, walletID string) {
	switch r.Method {
	case http.MethodGet:
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		addrs, err := s.reg.Addresses(ctx, walletID)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		type addrOut struct {
			AddrHash string `json:"addr_hash"`
			Account  uint32 `json:"account"`
		}
		out := make([]addrOut, 0, len(addrs))
		for h, p := range addrs {
			out = append(out, addrOut{AddrHash: h, Account: p.Account})
		}
		writeJSON(w, map[string]any{"addresses": out})
	case http.MethodPost:
		var req struct {
			AddrHash string `json:"addr_hash"`
			Account  uint32 `json:"account"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		addrHash, err := hex.DecodeString(strings.TrimSpace(req.AddrHash))
		if err != nil || len(addrHash) == 0 {
			http.Error(w, "invalid addr_hash", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.reg.AddAddress(ctx, walletID, addrHash, req.Account); err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"status": "ok"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, walletID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cursor := parseInt64Query(r, "cursor", 0)
	limit := parseInt64Query(r, "limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if cursor < 0 {
		http.Error(w, "invalid cursor", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	db, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}

	evs, err := db.PendingEvents(ctx, uint64(cursor), int(limit))
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	type event struct {
		Seq     uint64          `json:"seq"`
		Kind    string          `json:"kind"`
		Height  int64           `json:"height"`
		Payload json.RawMessage `json:"payload"`
	}
	events := make([]event, 0, len(evs))
	nextCursor := cursor
	for _, e := range evs {
		events = append(events, event{
			Seq:     e.Seq,
			Kind:    e.Kind,
			Height:  e.Height,
			Payload: e.Payload,
		})
		nextCursor = int64(e.Seq)
	}

	writeJSON(w, map[string]any{
		"events":      events,
		"next_cursor": nextCursor,
	})
}

type txOut struct {
	TxID       string   `json:"txid"`
	Height     int32    `json:"height"`
	BlockHash  string   `json:"block_hash,omitempty"`
	BlockIndex int32    `json:"block_index"`
	Ts         int64    `json:"ts"`
	Ps         int64    `json:"ps"`
	Accounts   []uint32 `json:"accounts"`
}

func renderRecord(rec *txdb.TxRecord) txOut {
	out := txOut{
		TxID:       rec.Hash.String(),
		Height:     rec.Height,
		BlockIndex: rec.BlockIndex,
		Ts:         rec.Ts,
		Ps:         rec.Ps,
		Accounts:   rec.Accounts,
	}
	if rec.Block != nil {
		out.BlockHash = rec.Block.String()
	}
	return out
}

func renderRecords(recs []*txdb.TxRecord) []txOut {
	out := make([]txOut, 0, len(recs))
	for _, rec := range recs {
		out = append(out, renderRecord(rec))
	}
	return out
}

// accountQuery parses an optional account query parameter; the third return
// reports that an error response was already written.
func accountQuery(w http.ResponseWriter, r *http.Request) (uint32, bool, bool) {
	v := strings.TrimSpace(r.URL.Query().Get("account"))
	if v == "" {
		return 0, false, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		http.Error(w, "invalid account", http.StatusBadRequest)
		return 0, false, true
	}
	return uint32(n), true, false
}

func queryOptions(r *http.Request) txdb.QueryOptions {
	opts := txdb.QueryOptions{
		Start: parseInt64Query(r, "start", 0),
		End:   parseInt64Query(r, "end", -1),
		Limit: int(parseInt64Query(r, "limit", 0)),
	}
	if opts.Limit < 0 || opts.Limit > 10000 {
		opts.Limit = 0
	}
	if strings.TrimSpace(r.URL.Query().Get("reverse")) == "true" {
		opts.Reverse = true
	}
	return opts
}

func parseInt64Query(r *http.Request, key string, def int64) int64 {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func isSafeWalletID(s string) bool {
	if len(s) > 64 {
		return false
	}
	for _, c := range s {
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
