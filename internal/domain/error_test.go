package domain

import (
	"errors"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name: "message only",
			err: &Error{
				Code:    EINVALID,
				Message: "invalid input",
			},
			expected: "invalid input",
		},
		{
			name: "with operation",
			err: &Error{
				Code:    EINVALID,
				Op:      "invoice.create",
				Message: "invalid input",
			},
			expected: "invoice.create: invalid input",
		},
		{
			name: "with wrapped error",
			err: &Error{
				Code:    EINTERNAL,
				Op:      "invoice.create",
				Message: "failed to save",
				Err:     errors.New("database connection failed"),
			},
			expected: "invoice.create: failed to save: database connection failed",
		},
		{
			name: "wrapped error without op",
			err: &Error{
				Code:    EINTERNAL,
				Message: "failed to save",
				Err:     errors.New("database connection failed"),
			},
			expected: "failed to save: database connection failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &Error{
		Code:    EINTERNAL,
		Message: "wrapped",
		Err:     underlying,
	}

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestError_Is_Sentinels(t *testing.T) {
	sentinel := &Error{Code: EPAYMENT, Message: "Payment amount exceeds invoice balance"}

	wrapped := WrapError(sentinel, EPAYMENT, "payment.apply", "Payment amount exceeds invoice balance")
	if !errors.Is(wrapped, sentinel) {
		t.Error("wrapped sentinel should match with errors.Is")
	}

	other := &Error{Code: EPAYMENT, Message: "different message"}
	if errors.Is(other, sentinel) {
		t.Error("different message must not match sentinel")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "domain error", err: &Error{Code: ENOTFOUND, Message: "gone"}, expected: ENOTFOUND},
		{name: "wrapped domain error", err: WrapError(&Error{Code: ECONFLICT, Message: "dup"}, EINTERNAL, "op", "outer"), expected: EINTERNAL},
		{name: "plain error", err: errors.New("boom"), expected: EINTERNAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.expected {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorMessage_HidesInternalDetails(t *testing.T) {
	err := Internal(errors.New("pq: connection refused"), "invoice.create", "failed to save invoice")

	msg := ErrorMessage(err)
	if msg != "An internal error occurred. Please try again later." {
		t.Errorf("internal error message leaked: %q", msg)
	}

	if got := ErrorMessage(errors.New("raw")); got != "An internal error occurred. Please try again later." {
		t.Errorf("unknown error message leaked: %q", got)
	}
}

func TestHybridPattern_Validate(t *testing.T) {
	tests := []struct {
		name    string
		pattern HybridPattern
		wantErr bool
	}{
		{
			name:    "disjoint sets",
			pattern: HybridPattern{GroupWeeks: []int32{1, 2, 3}, IndividualWeeks: []int32{4}},
			wantErr: false,
		},
		{
			name:    "empty individual set",
			pattern: HybridPattern{GroupWeeks: []int32{1, 2}, IndividualWeeks: nil},
			wantErr: false,
		},
		{
			name:    "overlapping week",
			pattern: HybridPattern{GroupWeeks: []int32{1, 2}, IndividualWeeks: []int32{2}},
			wantErr: true,
		},
		{
			name:    "duplicate within group",
			pattern: HybridPattern{GroupWeeks: []int32{1, 1}, IndividualWeeks: nil},
			wantErr: true,
		},
		{
			name:    "non-positive week",
			pattern: HybridPattern{GroupWeeks: []int32{0}, IndividualWeeks: nil},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pattern.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsCode(err, EINVALID) {
				t.Errorf("Validate() code = %q, want %q", ErrorCode(err), EINVALID)
			}
		})
	}
}
