package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidExecContext   = errors.New("invalid execution context")
	ErrOperationFailed      = errors.New("operation failed")
	ErrReadDatabaseRow      = errors.New("failed to read database row")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrTrialAlreadyUsed     = errors.New("trial already used")
	ErrInvalidTransition    = errors.New("invalid payment status transition")
	ErrPaymentNotCaptured   = errors.New("payment not captured")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrSignatureMismatch    = errors.New("signature verification failed")
	ErrAmountMismatch       = errors.New("payment amount mismatch")
	ErrOrderIDMismatch      = errors.New("order id mismatch")
)
