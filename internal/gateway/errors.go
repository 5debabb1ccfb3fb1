package gateway

import (
	"errors"
	"net/http"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/quota"
)

// Stable error codes sent to clients on both transports.
const (
	codeUnauthorized = "unauthorized"
	codeBadJSON      = "bad_json"
	codeEmpty        = "empty_message"
	codeDailyLimit   = "daily_limit_exceeded"
	codeNoAPIKey     = "no_api_key"
)

// errorCode maps a turn error to its wire code and HTTP status. Model
// and generic backend failures carry the underlying detail so users can
// see what the provider rejected.
func errorCode(err error) (code string, status int) {
	switch {
	case errors.Is(err, engine.ErrEmptyMessage):
		return codeEmpty, http.StatusBadRequest
	case errors.Is(err, quota.ErrDailyLimit):
		return codeDailyLimit, http.StatusTooManyRequests
	case errors.Is(err, engine.ErrNoAPIKey):
		return codeNoAPIKey, http.StatusServiceUnavailable
	case provider.IsModelNotFound(err), errors.Is(err, provider.ErrContextLength):
		return "model_error: " + err.Error(), http.StatusBadGateway
	default:
		return "exception: " + err.Error(), http.StatusInternalServerError
	}
}
