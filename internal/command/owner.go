package command

import "sync"

// OwnerRegistry tracks the whitelisted owner identity and the
// owner-only-in-group flag (spec's `MSGCODE_OWNER`,
// `MSGCODE_OWNER_ONLY_IN_GROUP` environment variables, mutable at runtime
// via `/owner` and `/owner-only`).
type OwnerRegistry struct {
	mu        sync.RWMutex
	identity  string
	ownerOnly bool
}

// NewOwnerRegistry seeds the registry from the resolved environment values.
func NewOwnerRegistry(identity string, ownerOnly bool) *OwnerRegistry {
	return &OwnerRegistry{identity: identity, ownerOnly: ownerOnly}
}

// Identity returns the current whitelisted owner identity.
func (o *OwnerRegistry) Identity() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.identity
}

// OwnerOnly reports whether isFromMe messages are restricted to the owner
// identity in group chats.
func (o *OwnerRegistry) OwnerOnly() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ownerOnly
}

// IsWhitelisted implements internal/ingress.IsWhitelisted: an isFromMe
// sender is honored only if it matches the registered owner identity.
func (o *OwnerRegistry) IsWhitelisted(senderID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.identity != "" && senderID == o.identity
}

func (o *OwnerRegistry) SetIdentity(identity string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.identity = identity
}

func (o *OwnerRegistry) SetOwnerOnly(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ownerOnly = v
}
