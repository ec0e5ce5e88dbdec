package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, ErrCodeStore, "read job metadata")

	if got := err.Error(); got != "read job metadata: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if Wrap(nil, ErrCodeStore, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, ErrCodeStore, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"invalid input", InvalidInputf("missing %s", "origin"), IsInvalidInput},
		{"invalid field", InvalidField("destination", "required"), IsInvalidInput},
		{"key exists", KeyExistsf("job %s exists", "k"), IsKeyExists},
		{"conflict", Conflict("stale"), IsConflict},
		{"not found", NotFoundf("job %s", "k"), IsNotFound},
		{"internal", Internalf("bad state %d", 1), IsInternal},
		{"queue", Wrap(errors.New("net"), ErrCodeQueue, "send"), IsQueue},
		{"store", Wrap(errors.New("io"), ErrCodeStore, "get"), IsStore},
		{"wrapped conflict", fmt.Errorf("update: %w", Conflict("stale")), IsConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("predicate did not match %v (code %q)", tt.err, GetCode(tt.err))
			}
		})
	}
}

func TestStaleReceipt(t *testing.T) {
	err := fmt.Errorf("acknowledge: %w", StaleReceipt("acknowledge"))
	if !IsQueue(err) {
		t.Error("stale receipt should be a queue error")
	}
	if !IsStaleReceipt(err) {
		t.Error("IsStaleReceipt should match")
	}
	if IsStaleReceipt(Wrap(errors.New("dial tcp"), ErrCodeQueue, "receive")) {
		t.Error("transport failure is not a stale receipt")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conflict", Conflict("stale"), true},
		{"store", Wrap(errors.New("io"), ErrCodeStore, "x"), true},
		{"queue transport", Wrap(errors.New("io"), ErrCodeQueue, "x"), true},
		{"timeout", &AppError{Code: ErrCodeTimeout, Message: "t"}, true},
		{"stale receipt", StaleReceipt("extend"), false},
		{"invalid input", InvalidInputf("bad"), false},
		{"key exists", KeyExistsf("dup"), false},
		{"canceled", &AppError{Code: ErrCodeCanceled, Message: "c"}, false},
		{"plain error", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCodeAndField(t *testing.T) {
	if GetCode(errors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
	err := InvalidField("api", "unsupported api")
	if GetField(err) != "api" {
		t.Errorf("GetField() = %q", GetField(err))
	}
	if GetField(errors.New("plain")) != "" {
		t.Error("plain errors have no field")
	}
}
