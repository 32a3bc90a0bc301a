package models

import "errors"

var (
	// ErrInvalidConfig is returned when a TradeConfig cannot be run.
	ErrInvalidConfig = errors.New("invalid trade config")

	// ErrEmptySchedule is returned when the Signal strategy has no usable entries.
	ErrEmptySchedule = errors.New("signal schedule is empty")

	// ErrInvalidBidAmount is returned for a zero, negative or non-finite bid.
	ErrInvalidBidAmount = errors.New("invalid bid amount")

	// ErrBelowMinimumBid is returned when the bid is below the currency minimum.
	ErrBelowMinimumBid = errors.New("bid below currency minimum")

	// ErrUnsupportedCurrency is returned when no bid limits exist for a currency.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrInsufficientBalance is returned when the wallet cannot cover the bid.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("engine already running")

	// ErrNotRunning is returned by operations that need a running engine.
	ErrNotRunning = errors.New("engine not running")

	// ErrConnectTimeout is returned when a channel does not open in time.
	ErrConnectTimeout = errors.New("channel open timeout")
)
