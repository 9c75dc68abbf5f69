package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Feed Specific Errors
	ErrConnectionFailed = errors.New("failed to connect to the market data feed")
	// ErrTokenInvalid is a 401-class failure: the stored access token is no
	// longer valid for anything and must be invalidated.
	ErrTokenInvalid = errors.New("access token invalid or expired")
	// ErrFeedEntitlement is a 403-class failure: the token is valid for REST
	// use but lacks streaming entitlement. It must NOT invalidate the token.
	ErrFeedEntitlement = errors.New("market data feed entitlement unavailable")
	ErrMarketClosed    = errors.New("market is closed")
	ErrFeedResetBusy   = errors.New("feed reset already in progress")

	// Execution / Data Quality Errors
	ErrCrossedBook  = errors.New("crossed book: bid above ask")
	ErrStaleQuote   = errors.New("quote data is stale")
	ErrNoMarketData = errors.New("no market data available for instrument")
	ErrLockHeld     = errors.New("execution lock held by another attempt")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
	ErrTxFailed     = errors.New("database transaction failed")
)
