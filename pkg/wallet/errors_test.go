package wallet

import (
	"errors"
	"testing"
)

func TestWrapErrorCarriesSegmentsAndUnwraps(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("debit", "account", "apply_delta", ErrInsufficientFunds)
	if !errors.Is(wrapped, ErrInsufficientFunds) {
		test.Fatalf("expected wrapped error to match sentinel, got %v", wrapped)
	}

	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "debit" {
		test.Fatalf("unexpected operation %q", operationError.Operation())
	}
	if operationError.Subject() != "account" {
		test.Fatalf("unexpected subject %q", operationError.Subject())
	}
	if operationError.Code() != "apply_delta" {
		test.Fatalf("unexpected code %q", operationError.Code())
	}
	expected := "debit.account.apply_delta: insufficient funds"
	if wrapped.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrapped.Error())
	}
}

func TestWrapErrorNilIsNil(test *testing.T) {
	test.Parallel()
	if WrapError("debit", "account", "none", nil) != nil {
		test.Fatal("expected nil for nil cause")
	}
}
