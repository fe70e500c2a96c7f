package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigErrorMessage(t *testing.T) {
	err := ErrInvalidValue("BATCH_SIZE", 0, "must be positive")
	if !strings.Contains(err.Error(), "BATCH_SIZE") {
		t.Errorf("Error() = %q, want it to mention BATCH_SIZE", err.Error())
	}
	if !strings.Contains(err.Error(), "Fix BATCH_SIZE") {
		t.Errorf("Error() = %q, want the action appended", err.Error())
	}

	bare := &ConfigError{Code: "X", Message: "only message"}
	if bare.Error() != "only message" {
		t.Errorf("Error() = %q, want %q", bare.Error(), "only message")
	}
}

func TestIsConfigError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantOK   bool
		wantCode string
	}{
		{"direct", ErrMissingProvider(), true, ErrCodeMissingProvider},
		{"wrapped", fmt.Errorf("load: %w", ErrInvalidStore("redis")), true, ErrCodeInvalidStore},
		{"plain error", errors.New("boom"), false, ""},
		{"nil", nil, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := IsConfigError(tt.err)
			if ok != tt.wantOK {
				t.Errorf("IsConfigError() ok = %v, want %v", ok, tt.wantOK)
			}
			if got := GetErrorCode(tt.err); got != tt.wantCode {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.wantCode)
			}
		})
	}
}
