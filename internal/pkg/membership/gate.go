package membership

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/guildgate/guildgate/internal/pkg/cache"
)

// SubscriptionChecker is the provider-direct subscription source used by
// the gate's stricter variant. Implemented by hotmart.Client.
type SubscriptionChecker interface {
	HasActiveSubscription(ctx context.Context, email string) (bool, error)
}

// GateConfig controls the pre-handshake admission check.
type GateConfig struct {
	// Enabled turns the gate on. Disabled gates permit everyone, which is
	// the original shipped behavior.
	Enabled bool
	// FailClosed rejects when all data sources are unreachable. The
	// default is to fail open so a store outage never blocks linking.
	FailClosed bool
	// CacheTTL caches positive lookups in Redis. Zero disables caching.
	CacheTTL time.Duration
}

// Gate rejects identity-link handshakes for purchase emails with no known
// active subscription. It consults the member store first and falls back
// to the provider API when one is configured.
type Gate struct {
	store   Store
	checker SubscriptionChecker
	cfg     GateConfig
}

// NewGate builds an admission gate. checker may be nil when no
// provider-direct source is configured.
func NewGate(store Store, checker SubscriptionChecker, cfg GateConfig) *Gate {
	return &Gate{store: store, checker: checker, cfg: cfg}
}

// Allow reports whether the identity-link handshake may start for the
// purchase email.
func (g *Gate) Allow(ctx context.Context, purchaseEmail string) bool {
	if !g.cfg.Enabled {
		return true
	}
	if purchaseEmail == "" {
		return false
	}

	cacheKey := "gate:active:" + purchaseEmail
	if g.cfg.CacheTTL > 0 {
		if _, err := cache.Get(cacheKey); err == nil {
			return true
		}
	}

	member, storeErr := g.store.Get(ctx, purchaseEmail)
	if storeErr == nil && Classify(member.SubscriptionStatus) == ClassActive {
		g.cachePermit(cacheKey)
		return true
	}

	if g.checker != nil {
		active, err := g.checker.HasActiveSubscription(ctx, purchaseEmail)
		if err == nil {
			if active {
				g.cachePermit(cacheKey)
			}
			return active
		}
		log.Printf("admission gate: provider lookup failed for %s: %v", purchaseEmail, err)
		return g.failureVerdict()
	}

	if storeErr != nil && !errors.Is(storeErr, ErrMemberNotFound) {
		log.Printf("admission gate: store lookup failed for %s: %v", purchaseEmail, storeErr)
		return g.failureVerdict()
	}

	// The store answered and knows no active subscription.
	return false
}

func (g *Gate) cachePermit(key string) {
	if g.cfg.CacheTTL <= 0 {
		return
	}
	if err := cache.Set(key, "1", g.cfg.CacheTTL); err != nil {
		log.Printf("admission gate: cache write failed: %v", err)
	}
}

func (g *Gate) failureVerdict() bool {
	return !g.cfg.FailClosed
}
