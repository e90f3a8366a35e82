package engine

import "errors"

// Sentinel errors returned by engine operations. Callers branch with
// errors.Is; the HTTP layer maps these onto stable error codes.
var (
	ErrScheduleExists      = errors.New("schedule configuration already exists")
	ErrCallerIsRecipient   = errors.New("caller cannot be recipient")
	ErrZeroAmount          = errors.New("schedule amount cannot be zero")
	ErrAmountTooLarge      = errors.New("amount exceeds the maximum supported value")
	ErrTokenNotWhitelisted = errors.New("token is not whitelisted")
	ErrTokenWhitelisted    = errors.New("token is already whitelisted")
	ErrInvalidSchedule     = errors.New("wrong schedule configuration")
	ErrScheduleNotFound    = errors.New("schedule configuration not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrUnauthorized        = errors.New("unauthorized")
)
