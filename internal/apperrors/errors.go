// Package apperrors defines the sentinel error taxonomy propagated across
// the engine (§7). Operations return (value, error); these sentinels are
// wrapped with context via fmt.Errorf("...: %w", ...) and compared with
// errors.Is at the boundaries that need to branch on error class.
package apperrors

import "errors"

// Top-level taxonomy (§7).
var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrVenueTransient      = errors.New("venue transient error")
	ErrTimestampSkew       = errors.New("timestamp outside recv window")
	ErrRegionBlock         = errors.New("region blocked")
	ErrVenueFatal          = errors.New("venue fatal error")
	ErrInternal            = errors.New("internal error")
)

// Venue rejection reasons (§4.1 placeLimit) and control-API outcomes (§6).
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLotSize           = errors.New("lot size violation")
	ErrMinNotional       = errors.New("minimum notional violation")
	ErrPriceFilter       = errors.New("price filter violation")
	ErrRateLimit         = errors.New("rate limit exceeded")

	ErrPriceRange       = errors.New("current price outside grid range")
	ErrSymbolUnknown    = errors.New("symbol unknown")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyActive    = errors.New("bot already active")
	ErrAlreadyStopped   = errors.New("bot already stopped")
	ErrNotActive        = errors.New("bot not active")
	ErrProxyUnavailable = errors.New("no healthy proxy available")
)
