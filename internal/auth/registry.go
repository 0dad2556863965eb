// Package auth tracks which identities may create and resolve markets and
// which identities hold the custodian role that moves user balances and
// relays order batches.
package auth

import (
	"errors"
	"sync"
)

var (
	// ErrNotOwner is returned when a non-owner identity tries to mutate the
	// registry.
	ErrNotOwner = errors.New("auth: only the owner may grant or revoke creator status")
)

// Registry is the authorization registry. The owner and the custodian set
// are fixed at construction; creator status is granted and revoked by the
// owner at runtime. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	owner      string
	custodians map[string]bool
	creators   map[string]bool
}

// NewRegistry creates a registry with the given owner and custodian
// identities. The owner is also an authorized creator from the start.
func NewRegistry(owner string, custodians []string) *Registry {
	c := make(map[string]bool, len(custodians))
	for _, id := range custodians {
		c[id] = true
	}
	return &Registry{
		owner:      owner,
		custodians: c,
		creators:   map[string]bool{owner: true},
	}
}

// Owner returns the owner identity.
func (r *Registry) Owner() string {
	return r.owner
}

// IsCustodian reports whether the identity holds the custodian role.
func (r *Registry) IsCustodian(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.custodians[identity]
}

// IsAuthorizedCreator reports whether the identity may create and resolve
// markets.
func (r *Registry) IsAuthorizedCreator(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creators[identity]
}

// SetAuthorization grants or revokes creator status. Owner-only; idempotent,
// takes effect immediately.
func (r *Registry) SetAuthorization(caller, identity string, authorized bool) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[identity] = authorized
	return nil
}
