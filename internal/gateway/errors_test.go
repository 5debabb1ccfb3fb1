package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/quota"
)

func TestErrorCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"empty message", engine.ErrEmptyMessage, codeEmpty, http.StatusBadRequest},
		{"daily limit", fmt.Errorf("%w: 50/50", quota.ErrDailyLimit), codeDailyLimit, http.StatusTooManyRequests},
		{"no api key", engine.ErrNoAPIKey, codeNoAPIKey, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, status := errorCode(tt.err)
			if code != tt.wantCode || status != tt.wantStatus {
				t.Errorf("errorCode = (%q, %d), want (%q, %d)", code, status, tt.wantCode, tt.wantStatus)
			}
		})
	}
}

func TestErrorCode_ModelErrorsCarryDetail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"model not found", fmt.Errorf("%w: gpt-9 does not exist", provider.ErrModelNotFound)},
		{"context length", fmt.Errorf("%w: 5000 tokens", provider.ErrContextLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, status := errorCode(tt.err)
			if !strings.HasPrefix(code, "model_error: ") {
				t.Errorf("code = %q, want model_error prefix", code)
			}
			if !strings.Contains(code, tt.err.Error()) {
				t.Errorf("code = %q, want detail %q", code, tt.err.Error())
			}
			if status != http.StatusBadGateway {
				t.Errorf("status = %d, want %d", status, http.StatusBadGateway)
			}
		})
	}
}

func TestErrorCode_UnknownErrorsBecomeExceptions(t *testing.T) {
	t.Parallel()

	code, status := errorCode(errors.New("something odd"))
	if code != "exception: something odd" {
		t.Errorf("code = %q", code)
	}
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", status, http.StatusInternalServerError)
	}
}
