package domain

import "fmt"

// Error types for consistent error handling across the switch.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a malformed request, rejected before any
// state change.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrAlreadyLinked indicates the VPA is bound to a different account
// and the caller did not request a re-link.
type ErrAlreadyLinked struct {
	VPA      string
	BankCode string
}

func (e *ErrAlreadyLinked) Error() string {
	return fmt.Sprintf("vpa already linked: %s (bank %s)", e.VPA, e.BankCode)
}

// ErrInvalidState indicates an operation on a transaction or batch in
// the wrong state (cancel of a non-PENDING, reverse of a non-SUCCESS).
type ErrInvalidState struct {
	Entity   string
	ID       string
	Current  string
	Expected string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("%s %s in state %s, expected %s", e.Entity, e.ID, e.Current, e.Expected)
}

// ErrBankUnavailable indicates routing was refused before any adapter
// call: the bank is non-ACTIVE or below the health threshold.
type ErrBankUnavailable struct {
	BankCode string
	Reason   string
}

func (e *ErrBankUnavailable) Error() string {
	return fmt.Sprintf("bank unavailable [%s]: %s", e.BankCode, e.Reason)
}

// ErrCircuitOpen indicates the circuit breaker for a bank is open.
type ErrCircuitOpen struct {
	BankCode string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for bank: %s", e.BankCode)
}

// ErrTimeout indicates an operation exceeded its deadline. The outcome
// is failed-unknown: callers must re-query, not blindly retry.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrDuplicate indicates an idempotency conflict: the same key was
// reused with different parameters.
type ErrDuplicate struct {
	Key string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate operation: %s", e.Key)
}

// ErrAlreadyBatched indicates a settlement batch id was already
// completed and cannot be re-initiated.
type ErrAlreadyBatched struct {
	BatchID string
}

func (e *ErrAlreadyBatched) Error() string {
	return fmt.Sprintf("settlement batch already completed: %s", e.BatchID)
}

// ErrUnauthorized indicates a missing or invalid request signature.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
