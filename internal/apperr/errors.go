// Package apperr collects the sentinel errors shared across the engine and
// API layers, so the HTTP layer can map them to the §7 error envelope with a
// single switch on the sentinel values instead of string matching.
package apperr

import "errors"

var (
	ErrInstrumentUnknown     = errors.New("instrument unknown")
	ErrInstrumentExists      = errors.New("instrument already exists")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrCannotCancelMarket    = errors.New("market orders cannot be cancelled")
	ErrCannotCancelExecuted  = errors.New("order is no longer resting")
	ErrNotFound              = errors.New("not found")
)
