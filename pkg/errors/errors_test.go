package errors

import (
	"fmt"
	"testing"
)

func TestOperationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *OperationError
		expected string
	}{
		{
			name: "full error",
			err: &OperationError{
				Operation: "connect to planning database",
				Component: "planningdb",
				Resource:  "page-123",
				Cause:     fmt.Errorf("connection timeout"),
			},
			expected: "failed to connect to planning database, component: planningdb, resource: page-123, cause: connection timeout",
		},
		{
			name: "minimal error",
			err: &OperationError{
				Operation: "parse channel config",
				Cause:     fmt.Errorf("invalid yaml"),
			},
			expected: "failed to parse channel config, cause: invalid yaml",
		},
		{
			name: "no cause",
			err: &OperationError{
				Operation: "validate task",
				Component: "engine",
			},
			expected: "failed to validate task, component: engine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("OperationError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestOperationError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &OperationError{Operation: "test", Cause: cause}
	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
	errNoCause := &OperationError{Operation: "test"}
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("Unwrap() with no cause = %v, want nil", unwrapped)
	}
}

func TestFailedTo(t *testing.T) {
	err := FailedTo("connect to database", fmt.Errorf("connection refused"))
	want := "failed to connect to database, cause: connection refused"
	if err.Error() != want {
		t.Errorf("FailedTo() = %q, want %q", err.Error(), want)
	}
}

func TestKindRetriable(t *testing.T) {
	if !KindRetriableTransient.Retriable() {
		t.Error("KindRetriableTransient should be retriable")
	}
	for _, k := range []Kind{KindRetriableExhausted, KindPermanentClient, KindQuota, KindReviewRejected, KindInfrastructure, KindReauthRequired} {
		if k.Retriable() {
			t.Errorf("%s should not be retriable", k)
		}
	}
}

func TestClassifyAndKindOf(t *testing.T) {
	cause := fmt.Errorf("boom")
	classified := Classify(KindQuota, cause)
	if KindOf(classified) != KindQuota {
		t.Errorf("KindOf() = %v, want %v", KindOf(classified), KindQuota)
	}
	wrapped := fmt.Errorf("wrapping: %w", classified)
	if KindOf(wrapped) != KindQuota {
		t.Errorf("KindOf() through wrap = %v, want %v", KindOf(wrapped), KindQuota)
	}
	if KindOf(cause) != KindUnknown {
		t.Errorf("KindOf() of plain error = %v, want KindUnknown", KindOf(cause))
	}
}
