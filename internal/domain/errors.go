package domain

import "errors"

// Engine errors. Validation and business-rule rejections fail fast with no
// side effects; per-holder transfer failures are recorded in the run result
// and never propagate as errors.
var (
	// ErrInvalidArgument is returned when input fails shape or range validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPoolEmpty is returned when an operation requires a non-empty liquidity pool.
	ErrPoolEmpty = errors.New("liquidity pool is empty")

	// ErrInsufficientLiquidity is returned when a withdrawal exceeds the pool's
	// available liquidity or the provider's LP balance.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInsufficientCollateral is returned when pledged collateral does not
	// cover the collateralization requirement for a loan.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrTransferFailed marks a single holder transfer that exhausted all
	// asset mover attempts. It is recorded, not propagated.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrLoanNotActive is returned when repayment or liquidation is requested
	// for a loan that is not in the active state.
	ErrLoanNotActive = errors.New("loan is not active")

	// ErrLoanHealthy is returned when liquidation is requested for a loan whose
	// health factor is at or above the liquidation boundary.
	ErrLoanHealthy = errors.New("loan health factor above liquidation boundary")
)
