package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/walletkit/txindex/internal/api"
	"github.com/walletkit/txindex/internal/broker"
	"github.com/walletkit/txindex/internal/config"
	"github.com/walletkit/txindex/internal/publisher"
	"github.com/walletkit/txindex/internal/storage"
	"github.com/walletkit/txindex/internal/txdb"
)

func main() {
	cfg := config.FromFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := storage.Open(ctx, storage.Config{
		Driver: cfg.DBDriver,
		DSN:    cfg.DBDSN,
		Schema: cfg.DBSchema,
		Path:   cfg.DBPath,
	})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer func() { _ = st.Close() }()

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var verifier txdb.Verifier
	if cfg.VerifyScripts {
		verifier = txdb.NewScriptVerifier()
	}

	reg, err := txdb.NewRegistry(st, txdb.RegistryOptions{
		Params:        chainParams(cfg.Network),
		Verifier:      verifier,
		CoinCacheSize: cfg.CoinCacheSize,
	})
	if err != nil {
		log.Fatalf("registry init: %v", err)
	}

	br, err := broker.Open(ctx, broker.Config{
		Driver: cfg.BrokerDriver,
		URL:    cfg.BrokerURL,
		Topic:  cfg.BrokerTopic,
	})
	if err != nil {
		log.Fatalf("broker: %v", err)
	}
	if br != nil {
		defer func() { _ = br.Close() }()

		pub, err := publisher.New(reg, br, publisher.Config{
			PollInterval: cfg.BrokerPollInterval,
			BatchSize:    cfg.BrokerBatchSize,
		})
		if err != nil {
			log.Fatalf("publisher init: %v", err)
		}
		go func() {
			if err := pub.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("publisher stopped: %v", err)
				cancel()
			}
		}()
	}

	var apiOpts []api.Option
	if cfg.APIToken != "" {
		apiOpts = append(apiOpts, api.WithBearerToken(cfg.APIToken))
	}
	apiServer, err := api.New(reg, apiOpts...)
	if err != nil {
		log.Fatalf("api init: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http: %v", err)
	}
}

func chainParams(network string) *chaincfg.Params {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "", "mainnet":
		return &chaincfg.MainNetParams
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "simnet":
		return &chaincfg.SimNetParams
	default:
		log.Fatalf("unknown network %q", network)
		return nil
	}
}
