package counter

import (
	"context"
	"log"
	"strconv"

	"github.com/coursefox/paycore/internal/pkg/cache"
)

const reconcileCountersKey = "reconcile:counters"

// Recorder accumulates reconciliation outcome counters in a Redis hash.
// Counters are derived observability; losing them never affects control flow,
// so increment failures are logged and swallowed.
type Recorder struct{}

// NewRecorder creates a redis-backed counter recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Incr bumps one named counter.
func (r *Recorder) Incr(name string) {
	ctx := context.Background()
	if err := cache.GetClient().HIncrBy(ctx, reconcileCountersKey, name, 1).Err(); err != nil {
		log.Printf("counter incr %s failed: %v", name, err)
	}
}

// Snapshot returns the current value of every counter.
func Snapshot() (map[string]int64, error) {
	ctx := context.Background()
	raw, err := cache.GetClient().HGetAll(ctx, reconcileCountersKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for name, val := range raw {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		out[name] = n
	}
	return out, nil
}

// Reset clears all counters. Used by operational tooling only.
func Reset() error {
	ctx := context.Background()
	return cache.GetClient().Del(ctx, reconcileCountersKey).Err()
}
