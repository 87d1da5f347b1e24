package cache

import (
	"log"
	"time"
)

const replayGuardKeyPrefix = "webhook:seen:"

// ReplayGuard is a redis-backed fast path for webhook replay detection. It
// only short-circuits obviously repeated deliveries; the unique index on the
// webhook event table stays authoritative, so a cold or unavailable cache is
// always safe.
type ReplayGuard struct {
	ttl time.Duration
}

// NewReplayGuard creates a guard whose seen-markers expire after ttl.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ReplayGuard{ttl: ttl}
}

// Seen reports whether this event id was recently marked as processed.
func (g *ReplayGuard) Seen(provider, eventID string) bool {
	ok, err := Exists(replayGuardKeyPrefix + provider + ":" + eventID)
	if err != nil {
		log.Printf("replay guard lookup failed: %v", err)
		return false
	}
	return ok
}

// MarkSeen records an event id as processed.
func (g *ReplayGuard) MarkSeen(provider, eventID string) {
	if err := Set(replayGuardKeyPrefix+provider+":"+eventID, 1, g.ttl); err != nil {
		log.Printf("replay guard mark failed: %v", err)
	}
}
