package gateway

import (
	"crypto/subtle"

	"github.com/parleyhq/parley/internal/engine"
)

// Account binds a bearer token to a chat user.
type Account struct {
	Token string
	User  engine.User
}

// Registry resolves bearer tokens to users. The token list is fixed at
// construction; lookups compare against every entry in constant time so
// timing does not leak which token prefix matched.
type Registry struct {
	accounts []Account
}

// NewRegistry creates a Registry from the given accounts.
func NewRegistry(accounts []Account) *Registry {
	return &Registry{accounts: accounts}
}

// Authenticate returns the user owning the given token.
func (r *Registry) Authenticate(token string) (engine.User, bool) {
	var (
		matched engine.User
		found   bool
	)
	for _, a := range r.accounts {
		if constantTimeEqual(token, a.Token) {
			matched = a.User
			found = true
		}
	}
	return matched, found
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
