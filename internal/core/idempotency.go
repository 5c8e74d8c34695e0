package core

import (
	"fmt"

	"github.com/hashicorp/golang-lru/simplelru"
)

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	// Metrics
	metrics *IdempotencyMetrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// IsDuplicate checks if event has been processed (two-tier lookup) and
// reports the tier that found it. Replay passes useDB=false: the events
// being replayed are in the database by definition.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string, useDB bool) (bool, string) {
	key := compositeKey(eventType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(key) {
		ic.metrics.RecordDuplicate(eventType, "lru")
		return true, "lru"
	}

	// Tier 2: Postgres check (cold path)
	if useDB && ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// A DB outage must not stall the core. The sequence validator
			// still rejects redelivered events below the partition cursor.
			ic.metrics.RecordTier2Error()
			return false, ""
		}

		if isDup {
			ic.metrics.RecordDuplicate(eventType, "postgres")
			// Add to LRU so we don't hit DB again
			ic.lru.Add(key)
			return true, "postgres"
		}
	}

	return false, ""
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(eventType, idempotencyKey))
}

func compositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type IdempotencyLRU struct {
	cache     *simplelru.LRU
	evictions int64 // For metrics
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	lru := &IdempotencyLRU{}
	cache, err := simplelru.NewLRU(capacity, func(_, _ interface{}) { lru.evictions++ })
	if err != nil {
		// Only a non-positive capacity fails.
		panic(fmt.Sprintf("idempotency LRU: %v", err))
	}
	lru.cache = cache
	return lru
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	_, ok := lru.cache.Get(key)
	return ok
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	lru.cache.Add(key, struct{}{})
}

// WarmFromKeys loads composite keys, oldest first, into the LRU so that
// recently processed events do not hit the database after a restart.
// Keys already cached keep their position.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if lru.cache.Contains(key) {
			continue
		}
		lru.cache.Add(key, struct{}{})
	}
}

// GetAllKeys returns the cached composite keys from least to most recently
// used, the order WarmFromKeys expects.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	cached := lru.cache.Keys()
	keys := make([]string, 0, len(cached))
	for _, k := range cached {
		keys = append(keys, k.(string))
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.cache.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type IdempotencyMetrics struct {
	duplicatesLRU      map[string]int64 // event_type -> count
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(eventType string, tier string) {
	if tier == "lru" {
		m.duplicatesLRU[eventType]++
	} else {
		m.duplicatesPostgres[eventType]++
	}
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(eventType string) (lru int64, postgres int64) {
	return m.duplicatesLRU[eventType], m.duplicatesPostgres[eventType]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
