package apperrors

import (
	"errors"
	"testing"
)

func TestNewDefaultsMessageToCodeName(t *testing.T) {
	err := New(NotFound)
	if err.Error() != "not_found" {
		t.Fatalf("expected default message %q, got %q", "not_found", err.Error())
	}
}

func TestWrapPreservesUnderlyingForUnwrap(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(base, Internal)
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected errors.Is to find the wrapped base error")
	}
	if GetCode(wrapped) != Internal {
		t.Fatalf("expected code Internal, got %v", GetCode(wrapped))
	}
}

func TestWrapOnExistingErrorOverwritesCode(t *testing.T) {
	original := New(NotFound)
	rewrapped := Wrap(original, Permission)
	if rewrapped != original {
		t.Fatalf("expected Wrap to reuse the same *Error instance")
	}
	if rewrapped.Code != Permission {
		t.Fatalf("expected code to be overwritten to Permission, got %v", rewrapped.Code)
	}
}

func TestGetCodeOnForeignErrorIsInternal(t *testing.T) {
	if GetCode(errors.New("plain")) != Internal {
		t.Fatalf("expected foreign errors to map to Internal")
	}
}

func TestGetCodeOnNilIsSuccess(t *testing.T) {
	if GetCode(nil) != Success {
		t.Fatalf("expected nil error to map to Success")
	}
}

func TestIsMatchesOnlyExactCode(t *testing.T) {
	err := New(Timeout)
	if !Is(err, Timeout) {
		t.Fatalf("expected Is to match Timeout")
	}
	if Is(err, Internal) {
		t.Fatalf("did not expect Is to match Internal")
	}
}

func TestWithDetailAccumulates(t *testing.T) {
	err := New(QuotaExceeded).WithDetail("bytes", 1024).WithDetail("limit", 512)
	if len(err.Details) != 2 {
		t.Fatalf("expected 2 details, got %d", len(err.Details))
	}
}
