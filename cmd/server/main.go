// Package main runs the grove vault engine as an HTTP service:
// revenue distribution, pool liquidity, and loan accounting behind a JSON
// API, with Prometheus metrics and an optional liquidation sweeper.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"grovevault-engine/internal/addr"
	"grovevault-engine/internal/assetmover"
	"grovevault-engine/internal/assetmover/stub"
	"grovevault-engine/internal/cache"
	"grovevault-engine/internal/distribution"
	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/engine"
	kafkaevents "grovevault-engine/internal/events/kafka"
	"grovevault-engine/internal/lending"
	"grovevault-engine/internal/liquidity"
	"grovevault-engine/internal/observability"
	"grovevault-engine/internal/pricefeed"
	"grovevault-engine/internal/storage"
	chstore "grovevault-engine/internal/storage/clickhouse"
	"grovevault-engine/internal/storage/memory"
	"grovevault-engine/internal/storage/migrations"
	pgstore "grovevault-engine/internal/storage/postgres"
)

// allStores holds all storage implementations.
type allStores struct {
	distributions storage.DistributionStore
	pools         storage.PoolStore
	positions     storage.PositionStore
	loans         storage.LoanStore
	audit         storage.TransferAuditStore
	snapshots     storage.PoolSnapshotStore
}

func main() {
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", ":8080", "HTTP API listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the result cache")
	kafkaBrokers := flag.String("kafka-brokers", os.Getenv("KAFKA_BROKERS"), "Comma-separated Kafka broker addresses")
	moverEndpoint := flag.String("mover-endpoint", os.Getenv("MOVER_ENDPOINT"), "Asset mover HTTP endpoint (stub mover when empty)")
	priceEndpoint := flag.String("price-endpoint", os.Getenv("PRICE_ENDPOINT"), "Price feed HTTP endpoint")
	priceWSEndpoint := flag.String("price-ws-endpoint", os.Getenv("PRICE_WS_ENDPOINT"), "Price feed WebSocket endpoint (overrides --price-endpoint)")
	priceAssets := flag.String("price-assets", "", "Comma-separated assets to subscribe on the price stream")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	validateAddrs := flag.Bool("validate-addresses", true, "Validate wallet addresses before moving funds")
	sweepInterval := flag.Duration("sweep-interval", 0, "Liquidation sweep interval (0 disables the sweeper)")
	cacheTTL := flag.Duration("cache-ttl", 30*time.Second, "Default result cache TTL")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}
	if *priceEndpoint == "" && *priceWSEndpoint == "" {
		logger.Fatal("--price-endpoint or --price-ws-endpoint is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Asset mover
	var mover assetmover.Mover
	if *moverEndpoint != "" {
		mover = assetmover.NewHTTPMover(*moverEndpoint)
	} else {
		logger.Println("No --mover-endpoint, using stub mover (transfers are not real)")
		mover = stub.NewMover()
	}

	// Price feed
	prices, closePrices, err := createPriceFeed(ctx, *priceEndpoint, *priceWSEndpoint, *priceAssets)
	if err != nil {
		logger.Fatalf("Failed to create price feed: %v", err)
	}
	defer closePrices()

	// Result cache
	resultCache := createCache(*redisAddr, *cacheTTL, logger)

	// Event publisher
	var events engine.EventPublisher
	if *kafkaBrokers != "" {
		pub := kafkaevents.NewPublisher(strings.Split(*kafkaBrokers, ","))
		defer pub.Close()
		events = pub
	}

	poolManager, err := liquidity.NewManager(liquidity.ManagerOptions{
		Pools:     stores.pools,
		Positions: stores.positions,
		Snapshots: stores.snapshots,
		Mover:     mover,
		Logger:    log.New(os.Stdout, "[liquidity] ", log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("Failed to create liquidity manager: %v", err)
	}

	loanManager, err := lending.NewManager(lending.ManagerOptions{
		Loans:  stores.loans,
		Pool:   poolManager,
		Prices: prices,
		Mover:  mover,
		Logger: log.New(os.Stdout, "[lending] ", log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("Failed to create lending manager: %v", err)
	}

	processor := distribution.NewProcessor(distribution.Options{
		Mover:  mover,
		Logger: log.New(os.Stdout, "[distribution] ", log.LstdFlags),
	})

	var validator engine.AddressValidator
	if *validateAddrs {
		validator = addr.Validate
	}

	eng, err := engine.New(engine.Options{
		Processor:     processor,
		Mover:         mover,
		Liquidity:     poolManager,
		Lending:       loanManager,
		Distributions: stores.distributions,
		Audit:         stores.audit,
		Cache:         resultCache,
		Events:        events,
		ValidateAddr:  validator,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create engine: %v", err)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if *sweepInterval > 0 {
		go runSweeper(ctx, eng, *sweepInterval, logger)
	}

	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: newAPI(eng, logger),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("Listening on %s", *listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			distributions: memory.NewDistributionStore(),
			pools:         memory.NewPoolStore(),
			positions:     memory.NewPositionStore(),
			loans:         memory.NewLoanStore(),
			audit:         memory.NewTransferAuditStore(),
			snapshots:     memory.NewPoolSnapshotStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &allStores{
		distributions: pgstore.NewDistributionStore(pool),
		pools:         pgstore.NewPoolStore(pool),
		positions:     pgstore.NewPositionStore(pool),
		loans:         pgstore.NewLoanStore(pool),
	}

	// ClickHouse is optional; without it the analytics history is skipped.
	var chConn *chstore.Conn
	if clickhouseDSN != "" {
		chConn, err = migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		stores.audit = chstore.NewTransferAuditStore(chConn)
		stores.snapshots = chstore.NewPoolSnapshotStore(chConn)
	}

	cleanup := func() {
		if chConn != nil {
			chConn.Close()
		}
		pool.Close()
	}
	return stores, cleanup, nil
}

// createPriceFeed connects the WebSocket stream when configured, otherwise
// the polling HTTP client.
func createPriceFeed(ctx context.Context, httpEndpoint, wsEndpoint, assets string) (lending.PriceSource, func(), error) {
	if wsEndpoint != "" {
		var list []string
		for _, a := range strings.Split(assets, ",") {
			if a = strings.TrimSpace(a); a != "" {
				list = append(list, a)
			}
		}
		stream, err := pricefeed.NewStream(ctx, wsEndpoint, list, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("connect price stream: %w", err)
		}
		go func() {
			for range stream.Quotes() {
				// Drain so the read loop never blocks; Price serves the last quote.
			}
		}()
		return stream, func() { stream.Close() }, nil
	}
	return pricefeed.NewHTTPClient(httpEndpoint), func() {}, nil
}

// createCache returns a Redis-backed cache when configured, in-memory otherwise.
func createCache(redisAddr string, ttl time.Duration, logger *log.Logger) cache.ResultCache {
	if redisAddr == "" {
		return cache.NewMemoryCache(ttl)
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	return cache.NewRedisCache(client, ttl, logger)
}

// runSweeper liquidates underwater loans on an interval.
func runSweeper(ctx context.Context, eng *engine.Engine, interval time.Duration, logger *log.Logger) {
	logger.Printf("Starting liquidation sweeper (interval: %v)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			liquidated, err := eng.SweepLiquidations(ctx)
			if err != nil {
				logger.Printf("Liquidation sweep error: %v", err)
				continue
			}
			if len(liquidated) > 0 {
				logger.Printf("Liquidated %d loans: %v", len(liquidated), liquidated)
			}
		}
	}
}

// api exposes the engine over JSON HTTP.
type api struct {
	engine *engine.Engine
	logger *log.Logger
}

func newAPI(eng *engine.Engine, logger *log.Logger) http.Handler {
	a := &api{engine: eng, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("POST /distributions", a.handleDistribute)
	mux.HandleFunc("GET /distributions/{id}", a.handleGetDistribution)
	mux.HandleFunc("GET /groves/{id}/distributions", a.handleGroveDistributions)

	mux.HandleFunc("POST /pools/{asset}/deposits", a.handleProvide)
	mux.HandleFunc("POST /pools/{asset}/withdrawals", a.handleWithdraw)
	mux.HandleFunc("GET /pools/{asset}", a.handlePoolStats)
	mux.HandleFunc("GET /pools/{asset}/positions/{provider}", a.handlePosition)

	mux.HandleFunc("POST /loans", a.handleTakeLoan)
	mux.HandleFunc("POST /loans/{id}/repayment", a.handleRepay)
	mux.HandleFunc("POST /loans/{id}/liquidation", a.handleLiquidate)
	mux.HandleFunc("GET /loans/{id}/health", a.handleLoanHealth)
	mux.HandleFunc("GET /borrowers/{address}/loans", a.handleBorrowerLoans)

	return mux
}

type distributeRequest struct {
	DistributionID string `json:"distribution_id"` // optional; re-submitting a recorded ID is rejected
	GroveID        string `json:"grove_id"`
	HarvestID      string `json:"harvest_id"`
	TotalRevenue   string `json:"total_revenue"`
	FarmerAddress  string `json:"farmer_address"`
	TotalSupply    string `json:"total_supply"`
	BatchSize      int    `json:"batch_size"`
	Holders        []struct {
		Address      string `json:"address"`
		TokenBalance string `json:"token_balance"`
	} `json:"holders"`
}

func (a *api) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	revenue, err := decimal.NewFromString(req.TotalRevenue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid total_revenue")
		return
	}
	supply, err := decimal.NewFromString(req.TotalSupply)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid total_supply")
		return
	}
	holders := make([]domain.Holder, 0, len(req.Holders))
	for _, h := range req.Holders {
		balance, err := decimal.NewFromString(h.TokenBalance)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid token_balance for %s", h.Address))
			return
		}
		holders = append(holders, domain.Holder{Address: h.Address, TokenBalance: balance})
	}

	result, err := a.engine.DistributeRevenue(r.Context(), &engine.DistributeRequest{
		DistributionID: req.DistributionID,
		Event: &domain.RevenueEvent{
			GroveID:      req.GroveID,
			HarvestID:    req.HarvestID,
			TotalRevenue: revenue,
		},
		FarmerAddress: req.FarmerAddress,
		Holders:       holders,
		TotalSupply:   supply,
		BatchSize:     req.BatchSize,
	})
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *api) handleGetDistribution(w http.ResponseWriter, r *http.Request) {
	result, err := a.engine.Distribution(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *api) handleGroveDistributions(w http.ResponseWriter, r *http.Request) {
	results, err := a.engine.GroveDistributions(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type poolAmountRequest struct {
	Provider string `json:"provider"`
	Amount   string `json:"amount"`
}

func (a *api) handleProvide(w http.ResponseWriter, r *http.Request) {
	var req poolAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	res, err := a.engine.ProvideLiquidity(r.Context(), r.PathValue("asset"), req.Provider, amount)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req poolAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	res, err := a.engine.WithdrawLiquidity(r.Context(), r.PathValue("asset"), req.Provider, amount)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.engine.PoolStats(r.Context(), r.PathValue("asset"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) handlePosition(w http.ResponseWriter, r *http.Request) {
	position, sharePct, err := a.engine.ProviderPosition(r.Context(), r.PathValue("asset"), r.PathValue("provider"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position":      position,
		"share_percent": sharePct,
	})
}

type loanRequest struct {
	BorrowerAddress   string `json:"borrower_address"`
	Asset             string `json:"asset"`
	CollateralTokenID string `json:"collateral_token_id"`
	CollateralAmount  string `json:"collateral_amount"`
	LoanAmountUSDC    string `json:"loan_amount_usdc"`
}

func (a *api) handleTakeLoan(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	collateral, err := decimal.NewFromString(req.CollateralAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collateral_amount")
		return
	}
	amount, err := decimal.NewFromString(req.LoanAmountUSDC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid loan_amount_usdc")
		return
	}

	loan, err := a.engine.TakeLoan(r.Context(), &lending.LoanRequest{
		BorrowerAddress:   req.BorrowerAddress,
		Asset:             req.Asset,
		CollateralTokenID: req.CollateralTokenID,
		CollateralAmount:  collateral,
		LoanAmountUSDC:    amount,
	})
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (a *api) handleRepay(w http.ResponseWriter, r *http.Request) {
	loan, err := a.engine.RepayLoan(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (a *api) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	loan, err := a.engine.LiquidateLoan(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (a *api) handleLoanHealth(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.LoanHealth(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) handleBorrowerLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := a.engine.BorrowerLoans(r.Context(), r.PathValue("address"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

// writeDomainError maps domain errors to HTTP status codes.
func (a *api) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientCollateral),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrLoanNotActive),
		errors.Is(err, domain.ErrLoanHealthy),
		errors.Is(err, domain.ErrPoolEmpty),
		errors.Is(err, storage.ErrDuplicateKey):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTransferFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		a.logger.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
