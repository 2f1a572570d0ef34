package market

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrOverflow           = errors.New("arithmetic overflow")
	ErrNotInitialized     = errors.New("market configuration not initialized")
	ErrTickInProgress     = errors.New("market tick already in progress")
)

// errAlreadySettled marks an order that left Pending before its settlement turn.
var errAlreadySettled = errors.New("transaction already settled")

// errDuplicateKey rolls back an order whose idempotency key was already used.
var errDuplicateKey = errors.New("idempotency key already used")
