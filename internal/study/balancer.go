package study

import (
	"context"
	"sync"

	"github.com/kfilewski/conversbot/internal/logger"
	"github.com/kfilewski/conversbot/internal/rowstore"
)

// GroupBalancer assigns experimental conditions so arm sizes stay close to
// equal across restarts. The first assignment of a process scans the
// condition column of the study table and picks the least-used arm; later
// assignments walk the fixed cycle from there, avoiding a full-history scan
// per participant.
type GroupBalancer struct {
	log        *logger.Logger
	store      rowstore.RowStore
	conditions []string

	mu     sync.Mutex
	seeded bool
	next   int
}

// NewGroupBalancer takes the condition keys in priority order; ties in the
// historical counts break toward the earliest key.
func NewGroupBalancer(log *logger.Logger, store rowstore.RowStore, conditions []string) *GroupBalancer {
	return &GroupBalancer{
		log:        log.With("service", "balancer"),
		store:      store,
		conditions: conditions,
	}
}

// Assign returns the next condition key. A failed history read degrades to
// the first condition rather than blocking the participant.
func (b *GroupBalancer) Assign(ctx context.Context) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.seeded {
		b.next = b.seedIndex(ctx)
		b.seeded = true
	}
	key := b.conditions[b.next]
	b.next = (b.next + 1) % len(b.conditions)
	return key
}

func (b *GroupBalancer) seedIndex(ctx context.Context) int {
	history, err := b.store.ReadColumn(ctx, rowstore.ColumnIndex("condition"))
	if err != nil {
		b.log.Warn("condition history unavailable, defaulting to first condition", "error", err)
		return 0
	}
	counts := make(map[string]int, len(b.conditions))
	for _, key := range history {
		counts[key]++
	}
	best := 0
	for i, key := range b.conditions {
		if counts[key] < counts[b.conditions[best]] {
			best = i
		}
	}
	return best
}
