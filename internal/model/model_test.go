package model

import (
	"errors"
	"testing"
)

func TestFetchErrorRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeTransientNet, true},
		{CodeThrottled, true},
		{CodeOverloaded, true},
		{CodeIntegrity, true},
		{CodeAuth, false},
		{CodeNotFound, false},
		{CodeIO, false},
		{CodeFatal, false},
	}
	for _, tt := range tests {
		e := NewFetchError(tt.code, 0, nil)
		if got := e.Retryable(); got != tt.want {
			t.Errorf("Code(%s).Retryable() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := NewFetchError(CodeIO, 0, cause)
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to see through FetchError to its cause")
	}

	var fe *FetchError
	if !errors.As(e, &fe) {
		t.Fatal("expected errors.As to recover the FetchError")
	}
	if fe.Code != CodeIO {
		t.Errorf("expected code %s, got %s", CodeIO, fe.Code)
	}
}

func TestFetchErrorStringsWithAndWithoutCause(t *testing.T) {
	if NewFetchError(CodeNotFound, 404, errors.New("missing")).Error() == "" {
		t.Error("expected a non-empty error string")
	}
	if NewFetchError(CodeFatal, 0, nil).Error() != string(CodeFatal) {
		t.Errorf("expected bare code string with no cause, got %q", NewFetchError(CodeFatal, 0, nil).Error())
	}
}
