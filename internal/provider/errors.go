package provider

import "errors"

// Sentinel errors for provider operations.
var (
	// ErrRateLimit indicates the provider returned a rate limit response.
	ErrRateLimit = errors.New("provider rate limited")

	// ErrContextLength indicates the request exceeded the model's context window.
	ErrContextLength = errors.New("context length exceeded")

	// ErrProviderDown indicates the provider is temporarily unavailable.
	ErrProviderDown = errors.New("provider unavailable")

	// ErrAuthentication indicates the provider rejected the API key.
	ErrAuthentication = errors.New("provider authentication failed")

	// ErrModelNotFound indicates the requested model is unknown to the provider.
	ErrModelNotFound = errors.New("model not found")
)

// IsRetryable reports whether the error is transient and the request
// can be retried after a delay.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown)
}

// IsModelNotFound reports whether err is or wraps ErrModelNotFound.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}
