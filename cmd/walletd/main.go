// Package main provides the walletd daemon: a wallet session controller
// exposed over JSON-RPC.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/internal/notify"
	"github.com/klingon-exchange/walletd/internal/rpc"
	"github.com/klingon-exchange/walletd/internal/session"
	"github.com/klingon-exchange/walletd/internal/wallet"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir      = flag.String("data-dir", "~/.walletd", "Data directory")
		configFile   = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr      = flag.String("api", "", "JSON-RPC API address, overrides config")
		rpcURL       = flag.String("rpc-url", "", "Wallet provider JSON-RPC URL, overrides config")
		logLevel     = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		initMnemonic = flag.Bool("init-mnemonic", false, "Generate an encrypted mnemonic file and exit")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Initial logger, replaced once the config level is known.
	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Info("walletd", "version", version, "commit", commit)
		os.Exit(0)
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env", "error", err)
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFile(config.ExpandPath(*configFile), *dataDir)
	} else {
		cfg, err = config.LoadConfig(*dataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file.
	if *apiAddr != "" {
		cfg.RPC.Listen = *apiAddr
	}
	if *rpcURL != "" {
		cfg.Network.RPCURL = *rpcURL
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	cfg.Storage.DataDir = *dataDir

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *initMnemonic {
		if err := writeMnemonic(cfg); err != nil {
			log.Fatal("Failed to create mnemonic", "error", err)
		}
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "path", config.ConfigPath(*dataDir), "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prov, err := openProvider(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open wallet provider", "error", err)
	}
	if prov != nil {
		defer prov.Close()
	} else {
		log.Warn("No wallet provider configured, connect will fail until network.rpc_url is set")
	}

	balances := wallet.NewBalanceReader(prov)
	transfers := wallet.NewTransferExecutor(prov, cfg.RecipientAddress())
	forwarder := notify.New(cfg.Notify.URL, cfg.Notify.Timeout)
	controller := session.New(session.Components{
		Connector: wallet.NewConnectionManager(prov, balances, cfg.Network.ChainID),
		Balances:  balances,
		Transfers: transfers,
		Notifier:  forwarder,
	}, wallet.Resolve(cfg.Session.TokenAddress))

	info := rpc.Info{
		Version:    version,
		ChainID:    cfg.Network.ChainID,
		SignerMode: string(cfg.Signer.Mode),
		Recipient:  transfers.Recipient().Hex(),
		NotifyURL:  forwarder.URL(),
	}
	rpcServer := rpc.NewServer(controller, info)
	if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg, info, controller, rpcServer.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	cancel()
	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config, info rpc.Info, c *session.Controller, apiAddr string) {
	chainLabel := "any chain"
	if cfg.Network.ChainID != 0 {
		chainLabel = chain.Describe(cfg.Network.ChainID)
	}
	asset := wallet.Resolve(cfg.Session.TokenAddress)

	log.Info("=================================================")
	log.Info("  walletd " + version)
	log.Info("=================================================")
	log.Info("  Session", "id", c.ID())
	log.Info("  Provider", "url", cfg.Network.RPCURL, "chain", chainLabel, "signer", cfg.Signer.Mode)
	log.Info("  Transfers", "recipient", info.Recipient, "asset", asset.String())
	log.Info("  Notify", "url", info.NotifyURL)
	log.Info("  API", "http", "http://"+apiAddr, "ws", "ws://"+apiAddr+"/ws")
	log.Info("  Data dir", "path", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("=================================================")
}
