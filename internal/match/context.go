package match

import (
	"sync"
	"time"

	"github.com/zapdesk/zapdesk/internal/models"
)

// ContextObservation is one recorded (intent, sentiment) tuple.
type ContextObservation struct {
	Intent    string
	Sentiment models.Sentiment
	Timestamp time.Time
}

// ConversationContext keeps a fixed-size ring of recent observations per
// identity, used to boost candidates whose intent matches recent turns.
// It is owned by the matching engine and independent from flow state.
type ConversationContext struct {
	mu      sync.RWMutex
	window  int
	byIdent map[string][]ContextObservation
}

// NewConversationContext creates a context tracker with the given ring size.
func NewConversationContext(window int) *ConversationContext {
	return &ConversationContext{
		window:  window,
		byIdent: make(map[string][]ContextObservation),
	}
}

// Record appends an observation for the identity, discarding the oldest when
// the ring is full.
func (c *ConversationContext) Record(identity string, obs ContextObservation) {
	if identity == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ring := append(c.byIdent[identity], obs)
	if len(ring) > c.window {
		ring = ring[len(ring)-c.window:]
	}
	c.byIdent[identity] = ring
}

// RecentIntents returns up to n most recent intents for the identity, newest
// first.
func (c *ConversationContext) RecentIntents(identity string, n int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ring := c.byIdent[identity]
	var out []string
	for i := len(ring) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, ring[i].Intent)
	}
	return out
}

// Forget drops all observations for an identity.
func (c *ConversationContext) Forget(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byIdent, identity)
}
