package stream

import "fmt"

// Registry maps server-assigned subscription ids to watched accounts. A
// registry belongs to exactly one connection and is never reused.
type Registry struct {
	accounts map[SubscriptionID]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[SubscriptionID]string)}
}

// Register binds id to account, replacing any previous binding.
func (r *Registry) Register(id SubscriptionID, account string) {
	r.accounts[id] = account
}

// Resolve returns the account registered under id.
func (r *Registry) Resolve(id SubscriptionID) (string, error) {
	account, ok := r.accounts[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	return account, nil
}

// Len is the number of live subscriptions.
func (r *Registry) Len() int {
	return len(r.accounts)
}
