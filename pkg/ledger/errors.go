package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientTokens       = errors.New("insufficient tokens")
	ErrInvalidOperation         = errors.New("invalid operation")
	ErrBalanceNotFound          = errors.New("no token balance found for user")
	ErrBalanceExists            = errors.New("token balance already exists")
	ErrConcurrentUpdate         = errors.New("concurrent balance update")
	ErrLedgerFailure            = errors.New("failed to process token operation")
	ErrUnknownReservation       = errors.New("unknown reservation")
	ErrReservationExists        = errors.New("reservation already exists")
	ErrReservationClosed        = errors.New("reservation closed")
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrInvalidReservationID     = errors.New("invalid reservation id")
	ErrInvalidReservationStatus = errors.New("invalid reservation status")
	ErrInvalidTokenAmount       = errors.New("invalid token amount")
	ErrInvalidPlan              = errors.New("invalid plan")
	ErrInvalidMetadata          = errors.New("invalid metadata")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// InvalidOperationError reports an operation that is not in the price table.
type InvalidOperationError struct {
	Operation string
}

func (invalidOperation *InvalidOperationError) Error() string {
	return fmt.Sprintf("Invalid operation: %s", invalidOperation.Operation)
}

// Is matches ErrInvalidOperation.
func (invalidOperation *InvalidOperationError) Is(target error) bool {
	return target == ErrInvalidOperation
}

// InsufficientTokensError reports a debit the balance cannot cover.
type InsufficientTokensError struct {
	Operation Operation
	Required  Tokens
	Available Tokens
}

func (insufficient *InsufficientTokensError) Error() string {
	return fmt.Sprintf("Insufficient tokens for %s. Required: %d, Available: %d", insufficient.Operation, insufficient.Required, insufficient.Available)
}

// Is matches ErrInsufficientTokens.
func (insufficient *InsufficientTokensError) Is(target error) bool {
	return target == ErrInsufficientTokens
}

// LedgerError replaces unexpected failures of a ledger operation.
// It matches ErrLedgerFailure and unwraps to the cause for logging.
type LedgerError struct {
	Operation string
	Err       error
}

func (ledgerError *LedgerError) Error() string {
	return fmt.Sprintf("%s: %v", ErrLedgerFailure, ledgerError.Err)
}

// Unwrap returns the underlying cause.
func (ledgerError *LedgerError) Unwrap() error {
	return ledgerError.Err
}

// Is matches ErrLedgerFailure.
func (ledgerError *LedgerError) Is(target error) bool {
	return target == ErrLedgerFailure
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

func isDomainRejection(err error) bool {
	return errors.Is(err, ErrInsufficientTokens) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrBalanceNotFound) ||
		errors.Is(err, ErrUnknownReservation) ||
		errors.Is(err, ErrReservationClosed) ||
		errors.Is(err, ErrReservationExists) ||
		errors.Is(err, ErrInvalidTokenAmount)
}
