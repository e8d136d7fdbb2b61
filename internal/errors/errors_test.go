package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"config error", NewConfigError("push.private_key", "missing", nil), true},
		{"wrapped config error", fmt.Errorf("loading: %w", NewConfigError("x", "y", nil)), true},
		{"missing credentials", Wrap(ErrMissingCredentials, "token manager"), true},
		{"fetch error", NewFetchError("005930", 502, "bad gateway", nil), false},
		{"conflict", ErrConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	err := NewFetchError("AAPL.O", 0, "parse closePrice", ErrMalformedQuote)
	if !errors.Is(err, ErrMalformedQuote) {
		t.Fatalf("expected ErrMalformedQuote in chain: %v", err)
	}
	if !strings.Contains(err.Error(), "AAPL.O") {
		t.Errorf("ticker missing from message: %s", err.Error())
	}
}

func TestDeliveryErrorMasksToken(t *testing.T) {
	token := "dGhpcy1pcy1hLXZlcnktbG9uZy1mY20tdG9rZW4"
	err := NewDeliveryError(token, 404, errors.New("UNREGISTERED"))
	if strings.Contains(err.Error(), token) {
		t.Fatalf("full token leaked: %s", err.Error())
	}
	if MaskToken("short") != "****" {
		t.Errorf("short tokens should be fully masked")
	}
}
