// Command bridged runs the cross-chain bridge orchestrator as a
// long-lived daemon: load configuration, construct the chain adapters,
// store, risk client, quote engine, and orchestrator, then drive the
// recovery scan and the per-transfer polling loop until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arcbridge/bridge-core/internal/api"
	"github.com/arcbridge/bridge-core/internal/audit"
	"github.com/arcbridge/bridge-core/internal/config"
	"github.com/arcbridge/bridge-core/internal/eventbus"
	"github.com/arcbridge/bridge-core/internal/orchestrator"
	"github.com/arcbridge/bridge-core/internal/price/aggregate"
	"github.com/arcbridge/bridge-core/internal/price/breaker"
	"github.com/arcbridge/bridge-core/internal/quantum"
	"github.com/arcbridge/bridge-core/internal/quote"
	"github.com/arcbridge/bridge-core/internal/risk"
	"github.com/arcbridge/bridge-core/internal/store"
	"github.com/arcbridge/chainadapter"
	"github.com/arcbridge/chainadapter/btc"
	"github.com/arcbridge/chainadapter/evm"
	"github.com/arcbridge/chainadapter/replay"
	"github.com/arcbridge/chainadapter/rpc"
	"github.com/arcbridge/chainadapter/storage"
)

func main() {
	configPath := flag.String("config", "/etc/bridged/config.yaml", "path to daemon configuration")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridged: failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watcher, err := config.NewWatcher(*configPath, logger)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	cfg := watcher.Current()

	bus := eventbus.New()

	adapters, err := buildAdapters(cfg)
	if err != nil {
		logger.Fatal("build chain adapters", zap.Error(err))
	}

	st, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal("build store", zap.Error(err))
	}

	keyManager, err := quantum.NewKeyManager(90*24*time.Hour, orchestrator.NewKeyReferenceCounter(st))
	if err != nil {
		logger.Fatal("build quantum key manager", zap.Error(err))
	}

	riskClient := risk.New(risk.Config{
		Endpoint: cfg.Risk.Endpoint,
		Timeout:  time.Duration(cfg.Risk.TimeoutMs) * time.Millisecond,
		CacheTTL: time.Duration(cfg.Risk.CacheTTLMs) * time.Millisecond,
	})

	machine := orchestrator.New(st, adapters, keyManager, riskClient, bus, orchestrator.Config{
		RiskPolicy: cfg.Risk.Policy,
	})

	if auditLogger, err := audit.NewLogger(cfg.Audit.LogPath); err != nil {
		logger.Warn("audit log disabled", zap.Error(err))
	} else {
		machine.SetAuditLogger(auditLogger)
	}

	quoteEngine := quote.New(quote.Config{
		OracleWeight: cfg.Quote.RateWeights.Oracle,
		DexWeight:    cfg.Quote.RateWeights.DEX,
	})

	guard := breaker.New(breaker.Config{
		FailureThreshold: uint32(cfg.Circuit.FailureThreshold),
		Cooldown:         time.Duration(cfg.Circuit.CooldownSec) * time.Second,
	}, bus)

	// core is the facade an eventual HTTP/gRPC gateway process would call
	// into; this daemon drives transfers itself via machine.Recover below.
	_ = api.NewCore(machine, quoteEngine, adapters, nil, nil, guard, aggregate.Config{})

	logger.Info("bridged starting", zap.Int("chains", len(adapters)))

	if err := machine.Recover(ctx); err != nil {
		logger.Error("recovery scan failed", zap.Error(err))
	}

	reloads := watcher.Subscribe()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("bridged shutting down")
			return
		case newCfg := <-reloads:
			logger.Info("config reloaded", zap.String("risk_policy", newCfg.Risk.Policy))
		case <-ticker.C:
			if err := machine.Recover(ctx); err != nil {
				logger.Warn("recovery pass failed", zap.Error(err))
			}
		}
	}
}

func buildAdapters(cfg *config.Config) (map[string]chainadapter.BridgeAdapter, error) {
	adapters := make(map[string]chainadapter.BridgeAdapter, len(cfg.Chain))
	for chainID, chainCfg := range cfg.Chain {
		healthTracker := rpc.NewSimpleHealthTracker()
		rpcClient, err := rpc.NewHTTPRPCClient([]string{chainCfg.RPCEndpoint}, 10*time.Second, healthTracker)
		if err != nil {
			return nil, fmt.Errorf("bridged: build rpc client for %s: %w", chainID, err)
		}

		switch chainID {
		case "ethereum":
			adapter, err := evm.NewAdapter(rpcClient, evm.Config{
				NetworkID:        chainCfg.NetworkID,
				ContractAddr:     chainCfg.ContractAddr,
				TxStore:          storage.NewMemoryTxStore(),
				Checkpoints:      evm.NewMemoryCheckpointStore(),
				Guard:            replay.New(),
				MinConfirmations: chainCfg.MinConfirmations,
				// SignerFor is supplied by a deployment-specific KMS/HSM
				// keysource, not constructed here.
			})
			if err != nil {
				return nil, fmt.Errorf("bridged: build evm adapter: %w", err)
			}
			adapters[chainID] = adapter
		case "bitcoin":
			adapter, err := btc.NewAdapter(rpcClient, btc.Config{
				ChainID:          chainID,
				TxStore:          storage.NewMemoryTxStore(),
				Checkpoints:      btc.NewMemoryCheckpointStore(),
				Guard:            replay.New(),
				MinConfirmations: chainCfg.MinConfirmations,
			})
			if err != nil {
				return nil, fmt.Errorf("bridged: build btc adapter: %w", err)
			}
			adapters[chainID] = adapter
		default:
			return nil, fmt.Errorf("bridged: unsupported chain id %q in config", chainID)
		}
	}
	return adapters, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.DSN == "" {
		return store.NewFake(), nil
	}
	pg, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("bridged: open postgres store: %w", err)
	}
	return pg, nil
}
