package consent

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DomainCache is the in-memory index consulted by the cascade: domain → list
// of learned patterns ranked by effectiveness score descending. It is
// hydrated once from the store at startup and mirrored on every recorded
// outcome; there is no cross-process invalidation. Within a session the
// cache is authoritative for ranking.
type DomainCache struct {
	mu           sync.RWMutex
	patterns     map[string][]Pattern
	maxPerDomain int
	logger       *zap.Logger
}

// NewDomainCache returns an empty cache enforcing the same per-domain
// retention cap as the store (maxPerDomain <= 0 uses the default).
func NewDomainCache(maxPerDomain int, logger *zap.Logger) *DomainCache {
	if maxPerDomain <= 0 {
		maxPerDomain = DefaultMaxPatternsPerDomain
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DomainCache{
		patterns:     make(map[string][]Pattern),
		maxPerDomain: maxPerDomain,
		logger:       logger.With(zap.String("component", "domain_cache")),
	}
}

// Hydrate replaces the cache contents wholesale with the store's partitioned
// pattern map and ranks each partition. Hydrating twice with identical
// contents yields an identical ranking.
func (c *DomainCache) Hydrate(byDomain map[string][]Pattern) {
	fresh := make(map[string][]Pattern, len(byDomain))
	total := 0
	for domain, patterns := range byDomain {
		list := append([]Pattern{}, patterns...)
		sortPatterns(list)
		list = c.evictExcess(list)
		fresh[domain] = list
		total += len(list)
	}

	c.mu.Lock()
	c.patterns = fresh
	c.mu.Unlock()

	c.logger.Info("domain cache hydrated",
		zap.Int("domains", len(fresh)),
		zap.Int("patterns", total))
}

// Ranked returns a copy of the domain's patterns, highest score first.
func (c *DomainCache) Ranked(domain string) []Pattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Pattern{}, c.patterns[domain]...)
}

// Update inserts or replaces the entry matching the pattern's key, then
// re-ranks the domain's list and enforces the retention cap so the cache
// never diverges from the store's eviction.
func (c *DomainCache) Update(p Pattern) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.patterns[p.Domain]
	replaced := false
	for i := range list {
		if list[i].Selector == p.Selector && list[i].Action == p.Action {
			list[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, p)
	}
	sortPatterns(list)
	c.patterns[p.Domain] = c.evictExcess(list)
}

// ApplyOutcome updates the cached entry for a key directly, without going
// through the store. Used when a store write failed: the in-memory ranking
// still moves (best-effort durability). Returns the resulting pattern.
func (c *DomainCache) ApplyOutcome(domain, selector string, action ActionType, success bool) Pattern {
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.patterns[domain]
	for i := range list {
		if list[i].Selector == selector && list[i].Action == action.String() {
			list[i].applyOutcome(success, now)
			p := list[i]
			sortPatterns(list)
			c.patterns[domain] = list
			return p
		}
	}

	p := newPattern(domain, selector, action, success, "automatic_learning", now)
	list = append(list, p)
	sortPatterns(list)
	c.patterns[domain] = c.evictExcess(list)
	return p
}

// evictExcess drops the lowest-score patterns (oldest LastUsed on ties) until
// the list fits the per-domain cap, the same order the store evicts in.
func (c *DomainCache) evictExcess(list []Pattern) []Pattern {
	for len(list) > c.maxPerDomain {
		victim := 0
		for i := 1; i < len(list); i++ {
			if list[i].EffectivenessScore < list[victim].EffectivenessScore ||
				(list[i].EffectivenessScore == list[victim].EffectivenessScore &&
					list[i].LastUsed.Before(list[victim].LastUsed)) {
				victim = i
			}
		}
		list = append(list[:victim], list[victim+1:]...)
	}
	return list
}

// Domains returns the number of domains with at least one cached pattern.
func (c *DomainCache) Domains() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.patterns)
}

// Len returns the total number of cached patterns.
func (c *DomainCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, list := range c.patterns {
		total += len(list)
	}
	return total
}
