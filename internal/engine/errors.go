package engine

import "errors"

// Validation errors: rejected before any state mutation, safe to retry with
// corrected input.
var (
	ErrInvalidAsset       = errors.New("asset must be \"native\" or a hex address")
	ErrInvalidStakeLimits = errors.New("stake limits require 0 < min <= max")
	ErrAssetNotAccepted   = errors.New("asset not accepted")
	ErrInvalidQuestion    = errors.New("question required")
	ErrInvalidOptionCount = errors.New("option count must be 2-5")
	ErrInvalidOptions     = errors.New("option labels must be non-empty and distinct")
	ErrInvalidDuration    = errors.New("duration must be 24-96 hours")
	ErrInvalidOption      = errors.New("option index out of range")
	ErrAmountOutOfRange   = errors.New("amount outside asset stake limits")
	ErrInvalidThreshold   = errors.New("minimum participants must be >= 2")
	ErrInvalidDailyLimit  = errors.New("daily limit must be >= 1")
	ErrInvalidAccount     = errors.New("account required")
)

// Lookup errors.
var (
	ErrMarketNotFound = errors.New("market not found")
	ErrAssetNotFound  = errors.New("asset not found")
	ErrNoStakeFound   = errors.New("no stake found")
	ErrPayoutNotFound = errors.New("failed payout not found")
)

// State-conflict errors: the caller is working from stale state and should
// not retry automatically.
var (
	ErrDuplicateAsset     = errors.New("asset already registered")
	ErrDailyLimitExceeded = errors.New("daily market creation limit reached")
	ErrMarketClosed       = errors.New("market closed for staking")
	ErrAlreadyStaked      = errors.New("participant already staked in this market")
	ErrMarketNotYetClosed = errors.New("market has not reached its end time")
	ErrAlreadyResolved    = errors.New("market already resolved")
	ErrNotResolved        = errors.New("market not resolved")
	ErrAlreadyClaimed     = errors.New("already claimed")
	ErrNotCreator         = errors.New("caller is not the market creator")
	ErrNoFees             = errors.New("no accrued fees for asset")
	ErrNoFeeRecipient     = errors.New("fee recipient not configured")
	ErrReentrantCall      = errors.New("reentrant call rejected")
)

// Fatal and custody errors.
var (
	// ErrArithmeticInvariant means a payout would exceed what the market can
	// distribute. It indicates a modeling bug and never mutates state.
	ErrArithmeticInvariant = errors.New("arithmetic invariant violated")
	ErrArithmeticOverflow  = errors.New("amount overflow")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrEngineStopped       = errors.New("engine stopped")
)

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidAsset, ErrInvalidStakeLimits, ErrInvalidQuestion, ErrInvalidOptionCount,
		ErrInvalidOptions, ErrInvalidDuration, ErrInvalidOption, ErrAmountOutOfRange,
		ErrInvalidThreshold, ErrInvalidDailyLimit, ErrInvalidAccount, ErrArithmeticOverflow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict reports whether err signals a stale caller.
func IsConflict(err error) bool {
	for _, target := range []error{
		ErrDuplicateAsset, ErrDailyLimitExceeded, ErrMarketClosed, ErrAlreadyStaked,
		ErrMarketNotYetClosed, ErrAlreadyResolved, ErrNotResolved, ErrAlreadyClaimed,
		ErrNotCreator, ErrNoFees, ErrNoFeeRecipient, ErrReentrantCall, ErrAssetNotAccepted,
		ErrInsufficientBalance,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMarketNotFound) || errors.Is(err, ErrAssetNotFound) ||
		errors.Is(err, ErrNoStakeFound) || errors.Is(err, ErrPayoutNotFound)
}
