package ledger

import (
	"errors"
	"testing"
)

const (
	operationName    = "ledger"
	subjectName      = "balance"
	codeName         = "invalid"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	if !errors.Is(wrappedError, baseError) {
		test.Fatalf("expected wrapped error to unwrap")
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestTypedErrorsMatchSentinels(test *testing.T) {
	test.Parallel()
	insufficient := error(&InsufficientTokensError{Operation: OperationGenerativeUpscale, Required: 80, Available: 2})
	if !errors.Is(insufficient, ErrInsufficientTokens) {
		test.Fatalf("expected ErrInsufficientTokens match")
	}
	if insufficient.Error() != "Insufficient tokens for generative_upscale. Required: 80, Available: 2" {
		test.Fatalf("unexpected message %q", insufficient.Error())
	}
	invalid := error(&InvalidOperationError{Operation: "teleport"})
	if !errors.Is(invalid, ErrInvalidOperation) || invalid.Error() != "Invalid operation: teleport" {
		test.Fatalf("unexpected invalid operation error %v", invalid)
	}
	ledgerFailure := error(&LedgerError{Operation: "deduct", Err: errStoreFailure})
	if !errors.Is(ledgerFailure, ErrLedgerFailure) || !errors.Is(ledgerFailure, errStoreFailure) {
		test.Fatalf("expected LedgerError to match failure and cause")
	}
}
