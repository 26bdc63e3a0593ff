// Package main runs one revenue distribution from the command line.
// Holder balances are read from a JSON file; results are printed as a
// summary and optionally recorded in PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/assetmover"
	"grovevault-engine/internal/assetmover/stub"
	"grovevault-engine/internal/distribution"
	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/engine"
	"grovevault-engine/internal/lending"
	"grovevault-engine/internal/liquidity"
	"grovevault-engine/internal/pricefeed"
	"grovevault-engine/internal/storage"
	"grovevault-engine/internal/storage/memory"
	"grovevault-engine/internal/storage/migrations"
	pgstore "grovevault-engine/internal/storage/postgres"
)

// holdersFile is the JSON input format for holder balances.
type holdersFile struct {
	TotalSupply string `json:"total_supply"`
	Holders     []struct {
		Address      string `json:"address"`
		TokenBalance string `json:"token_balance"`
	} `json:"holders"`
}

func main() {
	distributionID := flag.String("distribution-id", "", "Run identifier for idempotent re-submission (generated when empty)")
	groveID := flag.String("grove", "", "Grove identifier")
	harvestID := flag.String("harvest", "", "Harvest settlement identifier")
	revenue := flag.String("revenue", "", "Total harvest revenue in smallest currency units")
	farmerAddress := flag.String("farmer", "", "Farmer payout address")
	holdersPath := flag.String("holders", "", "Path to JSON file with holder balances")
	batchSize := flag.Int("batch-size", 0, "Transfer batch size (0 uses the default)")
	moverEndpoint := flag.String("mover-endpoint", os.Getenv("MOVER_ENDPOINT"), "Asset mover HTTP endpoint (stub mover when empty)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (in-memory when empty)")
	flag.Parse()

	logger := log.New(os.Stdout, "[distribute] ", log.LstdFlags)

	if *groveID == "" || *harvestID == "" || *revenue == "" || *farmerAddress == "" || *holdersPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --grove, --harvest, --revenue, --farmer and --holders are required")
		flag.Usage()
		os.Exit(1)
	}

	totalRevenue, err := decimal.NewFromString(*revenue)
	if err != nil {
		logger.Fatalf("Invalid --revenue: %v", err)
	}

	supply, holders, err := loadHolders(*holdersPath)
	if err != nil {
		logger.Fatalf("Failed to load holders: %v", err)
	}

	ctx := context.Background()

	var mover assetmover.Mover
	if *moverEndpoint != "" {
		mover = assetmover.NewHTTPMover(*moverEndpoint)
	} else {
		logger.Println("No --mover-endpoint, using stub mover (transfers are not real)")
		mover = stub.NewMover()
	}

	distributions, cleanup, err := createDistributionStore(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Failed to create distribution store: %v", err)
	}
	defer cleanup()

	eng, err := buildEngine(mover, distributions, logger)
	if err != nil {
		logger.Fatalf("Failed to build engine: %v", err)
	}

	result, err := eng.DistributeRevenue(ctx, &engine.DistributeRequest{
		DistributionID: *distributionID,
		Event: &domain.RevenueEvent{
			GroveID:      *groveID,
			HarvestID:    *harvestID,
			TotalRevenue: totalRevenue,
		},
		FarmerAddress: *farmerAddress,
		Holders:       holders,
		TotalSupply:   supply,
		BatchSize:     *batchSize,
	})
	if err != nil {
		logger.Fatalf("Distribution failed: %v", err)
	}

	fmt.Printf("Distribution %s completed\n", result.DistributionID)
	fmt.Printf("  holders:   %d\n", result.TotalHolders)
	fmt.Printf("  succeeded: %d\n", result.SuccessCount())
	fmt.Printf("  failed:    %d\n", result.FailureCount())
	for _, f := range result.Failed {
		fmt.Printf("  FAILED %s (%s): %s\n", f.Address, f.ShareAmount, f.ErrorReason)
	}
	if result.FailureCount() > 0 {
		os.Exit(1)
	}
}

// loadHolders reads the holder balances file.
func loadHolders(path string) (decimal.Decimal, []domain.Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("read holders file: %w", err)
	}

	var file holdersFile
	if err := json.Unmarshal(data, &file); err != nil {
		return decimal.Zero, nil, fmt.Errorf("parse holders file: %w", err)
	}

	supply, err := decimal.NewFromString(file.TotalSupply)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("parse total_supply: %w", err)
	}

	holders := make([]domain.Holder, 0, len(file.Holders))
	for _, h := range file.Holders {
		balance, err := decimal.NewFromString(h.TokenBalance)
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("parse token_balance for %s: %w", h.Address, err)
		}
		holders = append(holders, domain.Holder{Address: h.Address, TokenBalance: balance})
	}
	return supply, holders, nil
}

// createDistributionStore returns the PostgreSQL store when a DSN is given,
// in-memory otherwise.
func createDistributionStore(ctx context.Context, dsn string) (storage.DistributionStore, func(), error) {
	if dsn == "" {
		return memory.NewDistributionStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}
	return pgstore.NewDistributionStore(pool), pool.Close, nil
}

// buildEngine wires the minimal engine a one-shot distribution needs. The
// liquidity and lending managers are backed by memory stores; the engine
// requires them but this command never touches pools or loans.
func buildEngine(mover assetmover.Mover, distributions storage.DistributionStore, logger *log.Logger) (*engine.Engine, error) {
	poolManager, err := liquidity.NewManager(liquidity.ManagerOptions{
		Pools:     memory.NewPoolStore(),
		Positions: memory.NewPositionStore(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	loanManager, err := lending.NewManager(lending.ManagerOptions{
		Loans:  memory.NewLoanStore(),
		Pool:   poolManager,
		Prices: pricefeed.NewStatic(nil),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	processor := distribution.NewProcessor(distribution.Options{
		Mover:  mover,
		Logger: logger,
		Progress: func(processed, total int) {
			logger.Printf("progress: %d/%d holders", processed, total)
		},
	})

	return engine.New(engine.Options{
		Processor:     processor,
		Mover:         mover,
		Liquidity:     poolManager,
		Lending:       loanManager,
		Distributions: distributions,
		Logger:        logger,
	})
}
