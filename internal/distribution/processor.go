// Package distribution drives holder payouts for one revenue event through
// the asset mover in bounded, rate-limited batches with per-holder retry.
package distribution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"grovevault-engine/internal/assetmover"
	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/observability"
)

// Processing limits. MaxBatchSize is a hard ceiling guarding against
// unbounded fan-out against the asset mover.
const (
	DefaultBatchSize    = 50
	MaxBatchSize        = 50
	maxTransferAttempts = 3

	// interBatchDelay paces successive batches; there is no delay within
	// a batch.
	interBatchDelay = 1 * time.Second

	// backoffBase doubles after every failed attempt: 2s, 4s.
	backoffBase = 2 * time.Second
)

// Sleeper suspends for d or until ctx is done. Injected so tests run with a
// fake clock.
type Sleeper func(ctx context.Context, d time.Duration) error

// ProgressFunc receives the cumulative processed count (successes, skips,
// and failures) after each holder reaches a terminal state.
type ProgressFunc func(processed, total int)

func realSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Processor executes distribution runs. One Processor can serve many runs;
// each run owns its own result accumulator.
type Processor struct {
	mover     assetmover.Mover
	assetKind string
	logger    *log.Logger
	sleep     Sleeper
	progress  ProgressFunc
}

// Options contains configuration for creating a Processor.
type Options struct {
	Mover     assetmover.Mover
	AssetKind string       // asset paid out to holders, e.g. "USDC"
	Logger    *log.Logger  // optional
	Sleep     Sleeper      // optional, real clock by default
	Progress  ProgressFunc // optional progress sink
}

// NewProcessor creates a new distribution processor.
func NewProcessor(opts Options) *Processor {
	p := &Processor{
		mover:     opts.Mover,
		assetKind: opts.AssetKind,
		logger:    opts.Logger,
		sleep:     opts.Sleep,
		progress:  opts.Progress,
	}
	if p.assetKind == "" {
		p.assetKind = "USDC"
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	if p.sleep == nil {
		p.sleep = realSleep
	}
	return p
}

// holderOutcome is the terminal state of one holder within a batch.
type holderOutcome struct {
	success *domain.TransferRecord
	failure *domain.FailureRecord
}

// Run executes one distribution run and always returns a completed result.
// Per-holder transfer failures are recorded in the result, never returned as
// errors; only input validation fails the run up front, before any side
// effects. batchSize must be positive and is clamped to MaxBatchSize.
func (p *Processor) Run(ctx context.Context, distributionID string, entitlements []domain.HolderEntitlement, batchSize int) (*domain.DistributionResult, error) {
	if distributionID == "" {
		return nil, fmt.Errorf("%w: distribution id is required", domain.ErrInvalidArgument)
	}
	if p.mover == nil {
		return nil, fmt.Errorf("%w: asset mover is required", domain.ErrInvalidArgument)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", domain.ErrInvalidArgument, batchSize)
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	for i, e := range entitlements {
		if e.Address == "" {
			return nil, fmt.Errorf("%w: entitlement %d has empty address", domain.ErrInvalidArgument, i)
		}
		if e.ShareAmount.IsNegative() {
			return nil, fmt.Errorf("%w: entitlement %s has negative share", domain.ErrInvalidArgument, e.Address)
		}
	}

	start := time.Now()
	result := &domain.DistributionResult{
		DistributionID: distributionID,
		TotalHolders:   len(entitlements),
		Successful:     make([]domain.TransferRecord, 0, len(entitlements)),
		Failed:         make([]domain.FailureRecord, 0),
		StartedAt:      start.UnixMilli(),
	}

	if len(entitlements) == 0 {
		result.Completed = true
		result.CompletedAt = time.Now().UnixMilli()
		return result, nil
	}

	var processed atomic.Int64
	total := len(entitlements)

	for batchStart := 0; batchStart < len(entitlements); batchStart += batchSize {
		if batchStart > 0 {
			// Pacing delay between batches bounds pressure on the mover.
			if err := p.sleep(ctx, interBatchDelay); err != nil {
				p.logger.Printf("[distribution] %s: pacing interrupted: %v", distributionID, err)
			}
		}

		batchEnd := batchStart + batchSize
		if batchEnd > len(entitlements) {
			batchEnd = len(entitlements)
		}
		batch := entitlements[batchStart:batchEnd]

		// Holders within a batch run concurrently; in-flight transfers are
		// bounded by the batch size. Outcomes land in indexed slots so the
		// result preserves the supplied holder order, not arrival order.
		outcomes := make([]holderOutcome, len(batch))
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				outcomes[idx] = p.processHolder(ctx, distributionID, &batch[idx])
				done := processed.Add(1)
				if p.progress != nil {
					p.progress(int(done), total)
				}
			}(i)
		}
		wg.Wait()

		for _, o := range outcomes {
			if o.success != nil {
				result.Successful = append(result.Successful, *o.success)
			} else {
				result.Failed = append(result.Failed, *o.failure)
			}
		}
	}

	result.Completed = true
	result.CompletedAt = time.Now().UnixMilli()

	observability.RecordDistributionRun(result.PartialFailure(), time.Since(start).Seconds())
	p.logger.Printf("[distribution] %s: completed, %d paid, %d failed of %d holders",
		distributionID, result.SuccessCount(), result.FailureCount(), result.TotalHolders)

	return result, nil
}

// processHolder settles one holder and always returns a terminal outcome.
// Zero-share holders are recorded as skipped successes without invoking the
// mover. Otherwise the mover is tried up to maxTransferAttempts times with
// doubling backoff between attempts; exhaustion yields a failure record.
func (p *Processor) processHolder(ctx context.Context, distributionID string, e *domain.HolderEntitlement) holderOutcome {
	if e.ShareAmount.IsZero() {
		observability.RecordHolderOutcome(true, false)
		return holderOutcome{success: &domain.TransferRecord{
			Address:     e.Address,
			ShareAmount: e.ShareAmount,
			Timestamp:   time.Now().UnixMilli(),
			Skipped:     true,
		}}
	}

	req := &assetmover.TransferRequest{
		Source:         assetmover.SourcePool,
		ToAddress:      e.Address,
		Amount:         e.ShareAmount,
		AssetKind:      p.assetKind,
		IdempotencyKey: fmt.Sprintf("%s:%s", distributionID, e.Address),
	}

	delay := backoffBase
	var lastErr error

	for attempt := 1; attempt <= maxTransferAttempts; attempt++ {
		observability.RecordTransferAttempt(attempt)

		receipt, err := p.mover.Transfer(ctx, req)
		if err == nil {
			observability.RecordHolderOutcome(false, false)
			return holderOutcome{success: &domain.TransferRecord{
				Address:        e.Address,
				ShareAmount:    e.ShareAmount,
				TransactionRef: receipt.TransactionRef,
				Timestamp:      time.Now().UnixMilli(),
			}}
		}
		lastErr = err
		p.logger.Printf("[distribution] %s: transfer to %s attempt %d/%d failed: %v",
			distributionID, e.Address, attempt, maxTransferAttempts, err)

		if attempt < maxTransferAttempts {
			if serr := p.sleep(ctx, delay); serr != nil {
				// Context gone; remaining attempts would fail the same way.
				lastErr = fmt.Errorf("%v (backoff interrupted: %w)", err, serr)
				break
			}
			delay *= 2
		}
	}

	observability.RecordHolderOutcome(false, true)
	return holderOutcome{failure: &domain.FailureRecord{
		Address:     e.Address,
		ShareAmount: e.ShareAmount,
		ErrorReason: fmt.Sprintf("%s: %v", domain.ErrTransferFailed, lastErr),
		Timestamp:   time.Now().UnixMilli(),
	}}
}
