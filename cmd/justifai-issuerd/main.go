// Command justifai-issuerd is the issuance daemon: it wires the store, the
// artifact storage, the renderer, and the chain client together and runs
// the six pipeline loops until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"justifai.co/issuance/anchor"
	"justifai.co/issuance/config"
	"justifai.co/issuance/keys"
	"justifai.co/issuance/render"
	"justifai.co/issuance/scheduler"
	"justifai.co/issuance/storage"
	"justifai.co/issuance/storage/localfs"
	"justifai.co/issuance/storage/s3"
	"justifai.co/issuance/store"
	"justifai.co/issuance/store/memory"
	"justifai.co/issuance/store/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "justifai-issuerd:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := log.New(os.Stderr, "[issuerd] ", log.LstdFlags|log.LUTC)

	gateway, cleanup, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	blobs, err := openStorage(cfg)
	if err != nil {
		return err
	}
	logger.Printf("storage driver: %s", blobs.Name())

	autoSignKey := cfg.AutoSignKey
	if autoSignKey == "" && cfg.AutoSignKeyFile != "" {
		autoSignKey, err = keys.Load(cfg.AutoSignKeyFile)
		if err != nil {
			return err
		}
		logger.Printf("auto-sign key loaded from %s", cfg.AutoSignKeyFile)
	}

	var anchorer scheduler.Anchorer
	if cfg.ChainEnabled() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		client, err := anchor.New(ctx, anchor.Config{
			RPCURL:         cfg.RPCURL,
			PrivateKeyHex:  cfg.PrivateKey,
			Contract:       cfg.ContractAddr,
			Type:           anchor.ContractType(cfg.ContractType),
			ChainID:        cfg.ChainID,
			Network:        cfg.Network,
			MinPriorityFee: cfg.MinPriorityFee,
			MinMaxFee:      cfg.MinMaxFee,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		anchorer = client
		logger.Printf("anchoring to %s via %s contract", cfg.Network, cfg.ContractType)
	} else {
		logger.Print("chain not configured; batches will wait for anchoring")
	}

	sched := scheduler.New(gateway, blobs, render.Stub{}, anchorer, scheduler.Options{
		JobInterval:     cfg.JobInterval,
		MRIInterval:     cfg.MRIInterval,
		MRUInterval:     cfg.MRUInterval,
		QRInterval:      cfg.QRInterval,
		AugmentInterval: cfg.AugmentInterval,
		PDFConcurrency:  cfg.PDFConcurrency,
		AutoSignKey:     autoSignKey,
		IssuerName:      cfg.IssuerName,
		VerifyBaseURL:   cfg.VerifyBaseURL,
		VerifyQRBaseURL: cfg.VerifyQRBaseURL,
		Network:         cfg.Network,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Print("pipeline loops starting")
	sched.Run(ctx)
	logger.Print("shutdown complete")
	return nil
}

func openStore(cfg *config.Config, logger *log.Logger) (store.Gateway, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Print("DATABASE_URL not set; using the in-memory store")
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

func openStorage(cfg *config.Config) (storage.Store, error) {
	if cfg.StorageDriver == "s3" {
		return s3.New(s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.AWSEndpoint,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
			UseSSL:    true,
			PublicURL: cfg.PublicURL,
		})
	}
	return localfs.New(cfg.StoragePath, cfg.PublicURL)
}
