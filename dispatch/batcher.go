package dispatch

import (
	"context"
	"fmt"

	"github.com/ichao15/slwl/corridor"
)

// Queue is the slice of the corridor store the batcher needs.
type Queue interface {
	DequeueOldest(ctx context.Context, c corridor.Corridor) (*corridor.Summary, error)
	PushBack(ctx context.Context, c corridor.Corridor, s corridor.Summary) error
	ClearSeen(ctx context.Context, c corridor.Corridor, waybillID int64) error
}

// DefaultMaxBatchItems bounds one Batch call when no limit is configured.
const DefaultMaxBatchItems = 1000

// Batcher drains a corridor queue into one capacity-bounded load.
// Callers must hold the corridor lock.
type Batcher struct {
	queue    Queue
	maxItems int
}

func NewBatcher(queue Queue, maxItems int) *Batcher {
	if maxItems <= 0 {
		maxItems = DefaultMaxBatchItems
	}
	return &Batcher{queue: queue, maxItems: maxItems}
}

// Batch pops summaries oldest first until the next one would reach usable
// capacity; that one is pushed back so it heads the queue for the next pass.
// When the very first summary already overflows, the load is empty and the
// error is an *OversizeError.
//
// On a transport error the summaries already committed are still returned
// alongside the error; they are off the queue and belong to this load.
func (b *Batcher) Batch(ctx context.Context, c corridor.Corridor, p Profile) ([]corridor.Summary, error) {
	var acc Load
	var load []corridor.Summary

	for i := 0; i < b.maxItems; i++ {
		s, err := b.queue.DequeueOldest(ctx, c)
		if err != nil {
			return load, err
		}
		if s == nil {
			return load, nil
		}

		next := acc.Add(*s)
		if p.Overflows(next) {
			if err := b.queue.PushBack(ctx, c, *s); err != nil {
				return load, fmt.Errorf("requeue waybill %d: %w", s.WaybillID, err)
			}
			if len(load) == 0 {
				return load, &OversizeError{
					WaybillID: s.WaybillID,
					Corridor:  c,
					Weight:    s.TotalWeight,
					Volume:    s.TotalVolume,
				}
			}
			return load, nil
		}

		acc = next
		load = append(load, *s)
		if err := b.queue.ClearSeen(ctx, c, s.WaybillID); err != nil {
			return load, fmt.Errorf("clear dedup for waybill %d: %w", s.WaybillID, err)
		}
	}
	return load, nil
}
