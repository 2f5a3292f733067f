// Package main runs the wallet balance sync daemon:
// - Session: connect/disconnect over HTTP, reconnect from persisted addresses at startup
// - Refresh: per-source fetches on connect, on demand and on a timer
// - Push: snapshot changes over websocket, balance history recorded in the background
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"wallet-sync/internal/api"
	"wallet-sync/internal/cosmos"
	"wallet-sync/internal/domain"
	"wallet-sync/internal/evm"
	"wallet-sync/internal/history"
	"wallet-sync/internal/observability"
	"wallet-sync/internal/refresh"
	"wallet-sync/internal/snapshot"
	"wallet-sync/internal/sources"
	"wallet-sync/internal/storage"
	chstore "wallet-sync/internal/storage/clickhouse"
	"wallet-sync/internal/storage/memory"
	"wallet-sync/internal/storage/migrations"
	pgstore "wallet-sync/internal/storage/postgres"
	"wallet-sync/internal/transport"
	"wallet-sync/internal/wallet"
)

// config holds parsed command line configuration.
type config struct {
	lcdEndpoint          string
	evmRPCEndpoint       string
	nativeDenom          string
	nativeSource         sources.AddressKind
	tokens               []string
	postgresDSN          string
	clickhouseDSN        string
	useMemory            bool
	refreshInterval      time.Duration
	listenAddr           string
	maxConcurrentFetches int64
	rpcMaxRetries        int
	rpcTimeout           time.Duration
}

// allStores holds the storage implementations.
type allStores struct {
	addresses storage.AddressStore
	registry  storage.TokenRegistry
	history   storage.BalanceHistoryStore
	checks    map[string]api.CheckFunc
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("[wallet-sync] %v", err)
	}

	logger := log.New(os.Stdout, "[wallet-sync] ", log.LstdFlags|log.Lshortfile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, stores, logger)
	close(done)
	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// run wires all components and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config, stores *allStores, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := observability.DefaultMetrics
	store := snapshot.NewStore(snapshot.Options{
		Logger: log.New(logger.Writer(), "[snapshot] ", log.LstdFlags),
	})

	native, delegations, tokens, err := createSources(cfg)
	if err != nil {
		return err
	}

	orch := refresh.New(refresh.Options{
		Store:                store,
		NativeSource:         native,
		DelegationSource:     delegations,
		TokenSource:          tokens,
		Registry:             stores.registry,
		NativeAddress:        cfg.nativeSource,
		MaxConcurrentFetches: cfg.maxConcurrentFetches,
		Metrics:              metrics,
		Logger:               log.New(logger.Writer(), "[refresh] ", log.LstdFlags),
	})
	defer orch.Wait()

	manager := wallet.NewManager(wallet.Options{
		Store:     store,
		Addresses: stores.addresses,
		Refresher: orch,
		Metrics:   metrics,
		Logger:    log.New(logger.Writer(), "[wallet] ", log.LstdFlags),
	})

	if err := seedTokens(ctx, stores.registry, cfg.tokens); err != nil {
		return err
	}

	recorder := history.NewRecorder(history.Options{
		History:       stores.history,
		NativeAddress: cfg.nativeSource,
		Metrics:       metrics,
		Logger:        log.New(logger.Writer(), "[history] ", log.LstdFlags),
	})
	detach := recorder.Attach(store)
	defer detach()

	server := api.NewServer(api.Options{
		Store:       store,
		Wallet:      manager,
		Refresher:   orch,
		Registry:    stores.registry,
		History:     stores.history,
		Checks:      stores.checks,
		BaseContext: ctx,
		Metrics:     metrics,
		Logger:      log.New(logger.Writer(), "[api] ", log.LstdFlags),
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		recorder.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(ctx, cfg.listenAddr); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	reconnected, err := manager.ReconnectIfPossible(ctx)
	if err != nil {
		logger.Printf("Reconnect failed: %v", err)
	} else if reconnected {
		logger.Printf("Reconnected persisted wallet (generation %d)", manager.Session().Generation)
	}

	err = runRefreshScheduler(ctx, orch, cfg.refreshInterval, errCh, logger)
	cancel()
	wg.Wait()
	return err
}

// runRefreshScheduler refreshes the connected wallet every interval until
// ctx is cancelled or a component reports a fatal error. Zero disables the timer.
func runRefreshScheduler(ctx context.Context, orch *refresh.Orchestrator, interval time.Duration, errCh <-chan error, logger *log.Logger) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
		logger.Printf("Refreshing every %v", interval)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case <-tick:
			if err := orch.Refresh(ctx); err != nil {
				logger.Printf("Scheduled refresh failed: %v", err)
			}
		}
	}
}

// createSources builds the chain adapters. The native balance comes from the
// LCD endpoint unless --native-source=eth selects eth_getBalance.
func createSources(cfg *config) (sources.NativeSource, sources.DelegationSource, sources.TokenSource, error) {
	opts := []transport.Option{
		transport.WithMaxRetries(cfg.rpcMaxRetries),
		transport.WithTimeout(cfg.rpcTimeout),
	}

	var (
		native      sources.NativeSource
		delegations sources.DelegationSource
		tokens      sources.TokenSource
	)

	if cfg.lcdEndpoint != "" {
		lcd := cosmos.NewClient(cfg.lcdEndpoint, cfg.nativeDenom, opts...)
		native = lcd
		delegations = lcd
	}

	if cfg.evmRPCEndpoint != "" {
		client := evm.NewClient(cfg.evmRPCEndpoint, opts...)
		erc20, err := evm.NewERC20Source(client, evm.DefaultMetadataCacheSize)
		if err != nil {
			return nil, nil, nil, err
		}
		tokens = erc20
		if cfg.nativeSource == sources.AddressEth {
			native = evm.NewNativeSource(client, cfg.nativeDenom)
		}
	}

	return native, delegations, tokens, nil
}

// createStores creates the persistence layer. With --use-memory nothing survives a restart.
func createStores(ctx context.Context, cfg *config) (*allStores, func(), error) {
	if cfg.useMemory {
		stores := &allStores{
			addresses: memory.NewAddressStore(),
			registry:  memory.NewTokenRegistry(),
			history:   memory.NewBalanceHistoryStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	// ClickHouse
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		// PostgreSQL stores (session + registry)
		addresses: pgstore.NewAddressStore(pool),
		registry:  pgstore.NewTokenRegistry(pool),

		// ClickHouse stores (history)
		history: chstore.NewBalanceHistoryStore(chConn),

		checks: map[string]api.CheckFunc{
			"postgres":   pool.Check,
			"clickhouse": chConn.Check,
		},
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// seedTokens registers the configured contracts. Existing entries are kept.
func seedTokens(ctx context.Context, registry storage.TokenRegistry, contracts []string) error {
	now := time.Now().UnixMilli()
	for _, c := range contracts {
		if _, err := registry.Register(ctx, domain.NormalizeContract(c), now); err != nil {
			return fmt.Errorf("seed token %s: %w", c, err)
		}
	}

	registered, err := registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	observability.UpdateRegisteredTokens(len(registered))
	return nil
}

// parseFlags parses args with environment variables as defaults.
func parseFlags(args []string) (*config, error) {
	fs := flag.NewFlagSet("wallet-sync", flag.ContinueOnError)

	lcdEndpoint := fs.String("lcd-endpoint", os.Getenv("COSMOS_LCD_ENDPOINT"), "Cosmos LCD (REST) endpoint")
	evmRPCEndpoint := fs.String("evm-rpc-endpoint", os.Getenv("EVM_RPC_ENDPOINT"), "EVM JSON-RPC endpoint")
	nativeDenom := fs.String("native-denom", envOr("NATIVE_DENOM", "aevmos"), "Native denom")
	nativeSource := fs.String("native-source", envOr("NATIVE_SOURCE", string(sources.AddressCosmos)), "Address the native balance is read for (cosmos, eth)")
	tokens := fs.String("tokens", os.Getenv("TOKENS"), "Comma-separated ERC20 contracts to register at startup")
	postgresDSN := fs.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := fs.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := fs.Bool("use-memory", envBool("USE_MEMORY"), "Use in-memory storage instead of PostgreSQL/ClickHouse")
	refreshInterval := fs.Duration("refresh-interval", envDuration("REFRESH_INTERVAL", 30*time.Second), "Periodic refresh interval (0 disables)")
	listenAddr := fs.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	maxConcurrent := fs.Int64("max-concurrent-fetches", int64(envInt("MAX_CONCURRENT_FETCHES", 0)), "Maximum in-flight fetches (0 = unbounded)")
	rpcMaxRetries := fs.Int("rpc-max-retries", envInt("RPC_MAX_RETRIES", transport.DefaultMaxRetries), "Retries of network failures per RPC call")
	rpcTimeout := fs.Duration("rpc-timeout", envDuration("RPC_TIMEOUT", transport.DefaultTimeout), "Per-request RPC timeout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &config{
		lcdEndpoint:          *lcdEndpoint,
		evmRPCEndpoint:       *evmRPCEndpoint,
		nativeDenom:          *nativeDenom,
		nativeSource:         sources.AddressKind(strings.ToLower(*nativeSource)),
		tokens:               splitList(*tokens),
		postgresDSN:          *postgresDSN,
		clickhouseDSN:        *clickhouseDSN,
		useMemory:            *useMemory,
		refreshInterval:      *refreshInterval,
		listenAddr:           *listenAddr,
		maxConcurrentFetches: *maxConcurrent,
		rpcMaxRetries:        *rpcMaxRetries,
		rpcTimeout:           *rpcTimeout,
	}

	// Validate required flags
	if cfg.lcdEndpoint == "" && cfg.evmRPCEndpoint == "" {
		return nil, fmt.Errorf("--lcd-endpoint or --evm-rpc-endpoint is required")
	}
	if !cfg.nativeSource.IsValid() {
		return nil, fmt.Errorf("--native-source must be cosmos or eth, got %q", *nativeSource)
	}
	if cfg.nativeSource == sources.AddressEth && cfg.evmRPCEndpoint == "" {
		return nil, fmt.Errorf("--native-source=eth requires --evm-rpc-endpoint")
	}
	if !cfg.useMemory && (cfg.postgresDSN == "" || cfg.clickhouseDSN == "") {
		return nil, fmt.Errorf("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}
	if cfg.maxConcurrentFetches < 0 || cfg.rpcMaxRetries < 0 {
		return nil, fmt.Errorf("--max-concurrent-fetches and --rpc-max-retries must not be negative")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	loadEnvFileFrom(".env")
}

func loadEnvFileFrom(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
