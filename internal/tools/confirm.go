package tools

import (
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Intent is the method+params a confirm token is bound to, per spec §3:
// "the token's intent.method and a deep-equal check on intent.params must
// match".
type Intent struct {
	Method string
	Params map[string]any
}

// Token is a single-use confirmation, bound to the session that issued it
// (spec §3's Confirm token data model).
type Token struct {
	Value     string
	Intent    Intent
	IssuedAt  time.Time
	ExpiresAt time.Time
	Consumed  bool
	SessionID string
}

// ConfirmRegistry issues and validates confirm tokens. The Session Pool
// owns one per pool key and calls Rebind whenever the underlying subprocess
// is restarted; tokens issued under a prior generation fail validation with
// `reason=expired-session` rather than being silently forgotten (spec
// §4.12, §3's Confirm token state machine).
type ConfirmRegistry struct {
	mu        sync.Mutex
	sessionID string
	tokens    map[string]*Token
}

func NewConfirmRegistry(sessionID string) *ConfirmRegistry {
	return &ConfirmRegistry{sessionID: sessionID, tokens: make(map[string]*Token)}
}

// SessionID reports the session this registry is bound to.
func (r *ConfirmRegistry) SessionID() string { return r.sessionID }

// Rebind advances the registry to a new session generation (e.g. after a
// session-pool crash-restart). Tokens issued before the rebind remain in
// the map so a late presentation resolves to `expired-session` rather than
// `not-found`.
func (r *ConfirmRegistry) Rebind(newSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = newSessionID
}

// Issue implements `desktop.confirm.issue(intent, ttlMs)`.
func (r *ConfirmRegistry) Issue(intent Intent, ttl time.Duration) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	t := &Token{
		Value:     uuid.NewString(),
		Intent:    intent,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		SessionID: r.sessionID,
	}
	r.tokens[t.Value] = t
	return *t
}

// Validate checks a presented token against the intent of the call being
// made, consuming it atomically on success (spec §3: "consumed flips
// atomically on first successful use").
func (r *ConfirmRegistry) Validate(value string, intent Intent) (ok bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, found := r.tokens[value]
	if !found {
		return false, "not-found"
	}
	if r.sessionID != t.SessionID {
		return false, "expired-session"
	}
	if t.Consumed {
		return false, "used"
	}
	if time.Now().After(t.ExpiresAt) {
		return false, "expired"
	}
	if t.Intent.Method != intent.Method || !reflect.DeepEqual(t.Intent.Params, intent.Params) {
		return false, "intent-mismatch"
	}
	t.Consumed = true
	return true, ""
}
