package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ichao15/slwl/corridor"
)

// PlanSource hands out vehicle plans by shard and records when they have
// been consumed. A pulled plan is claimed by the caller: no other pass sees
// it until it is completed, released, or its claim predates staleBefore.
type PlanSource interface {
	PullUnassigned(ctx context.Context, shardTotal, shardIndex int, staleBefore time.Time) ([]Plan, error)
	CompletePlans(ctx context.Context, ids []int64, at time.Time) error
	ReleasePlans(ctx context.Context, ids []int64) error
}

// Locker grants exclusive access to one corridor.
type Locker interface {
	Acquire(ctx context.Context, c corridor.Corridor) (*corridor.Lease, error)
}

// SchedulerQueue is the batcher queue plus oversize bookkeeping.
type SchedulerQueue interface {
	Queue
	RecordOversize(ctx context.Context, c corridor.Corridor, waybillID int64) (int64, error)
	ResetOversize(ctx context.Context, c corridor.Corridor, waybillID int64) error
}

type SchedulerConfig struct {
	Schedule            string
	ShardTotal          int
	Shards              []int
	WeightRatio         float64
	VolumeRatio         float64
	MaxBatchItems       int
	MaxOversizeAttempts int64
	RetryMaxElapsed     time.Duration
	ClaimTimeout        time.Duration
}

// DefaultClaimTimeout is how long a plan claim survives a pass that never
// completed or released it.
const DefaultClaimTimeout = 5 * time.Minute

// TickResult summarizes one pass over the owned shards.
type TickResult struct {
	Plans     int
	Tasks     int
	Empty     int
	Skipped   int
	Failed    int
	Oversized int
}

func (r *TickResult) merge(o TickResult) {
	r.Plans += o.Plans
	r.Tasks += o.Tasks
	r.Empty += o.Empty
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Oversized += o.Oversized
}

// Scheduler periodically pulls vehicle plans and fills each one from its
// corridor queue under the corridor lock.
type Scheduler struct {
	cfg     SchedulerConfig
	plans   PlanSource
	locker  Locker
	queue   SchedulerQueue
	batcher *Batcher
	emitter Emitter

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(cfg SchedulerConfig, plans PlanSource, locker Locker, queue SchedulerQueue, emitter Emitter) *Scheduler {
	if cfg.ShardTotal < 1 {
		cfg.ShardTotal = 1
	}
	if len(cfg.Shards) == 0 {
		for i := 0; i < cfg.ShardTotal; i++ {
			cfg.Shards = append(cfg.Shards, i)
		}
	}
	if cfg.MaxOversizeAttempts < 1 {
		cfg.MaxOversizeAttempts = 3
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = DefaultClaimTimeout
	}
	return &Scheduler{
		cfg:     cfg,
		plans:   plans,
		locker:  locker,
		queue:   queue,
		batcher: NewBatcher(queue, cfg.MaxBatchItems),
		emitter: emitter,
	}
}

// Start registers the tick on the cron schedule. Overlapping ticks are
// skipped rather than queued.
func (s *Scheduler) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	logger := cron.VerbosePrintfLogger(log.Default())
	s.cron = cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		res, err := s.RunOnce(s.ctx)
		if err != nil {
			log.Printf("scheduler: tick: %v", err)
		}
		if res.Plans > 0 {
			log.Printf("scheduler: tick plans=%d tasks=%d empty=%d skipped=%d failed=%d oversize=%d",
				res.Plans, res.Tasks, res.Empty, res.Skipped, res.Failed, res.Oversized)
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	log.Printf("scheduler: started (%s, shards %v of %d)", s.cfg.Schedule, s.cfg.Shards, s.cfg.ShardTotal)
	return nil
}

// Stop waits for a running tick to finish before returning.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cancel()
	log.Printf("scheduler: stopped")
}

// RunOnce processes every owned shard concurrently. Plans inside a shard run
// sequentially. A failing shard or plan never stops its siblings; the
// returned error is the first shard-level failure.
func (s *Scheduler) RunOnce(ctx context.Context) (TickResult, error) {
	var (
		g     errgroup.Group
		mu    sync.Mutex
		total TickResult
	)
	for _, idx := range s.cfg.Shards {
		g.Go(func() error {
			res, err := s.runShard(ctx, idx)
			mu.Lock()
			total.merge(res)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return total, err
}

func (s *Scheduler) runShard(ctx context.Context, index int) (TickResult, error) {
	var res TickResult
	plans, err := s.plans.PullUnassigned(ctx, s.cfg.ShardTotal, index, time.Now().Add(-s.cfg.ClaimTimeout))
	if err != nil {
		return res, fmt.Errorf("shard %d: pull plans: %w", index, err)
	}
	if len(plans) == 0 {
		return res, nil
	}

	var consumed, released []int64
	for _, p := range plans {
		res.Plans++
		out, err := s.processPlan(ctx, p)
		switch out {
		case outcomeTask:
			res.Tasks++
		case outcomeEmpty:
			res.Empty++
		case outcomeOversize:
			res.Empty++
			res.Oversized++
		case outcomeSkipped:
			res.Skipped++
		case outcomeFailed:
			res.Failed++
			log.Printf("scheduler: plan %d: %v", p.ID, err)
			released = append(released, p.ID)
			continue
		}
		consumed = append(consumed, p.ID)
	}

	// failed plans go back to pending so the next tick retries them
	if err := s.plans.ReleasePlans(ctx, released); err != nil {
		log.Printf("scheduler: shard %d: release plans %v: %v", index, released, err)
	}
	if len(consumed) == 0 {
		return res, nil
	}
	now := time.Now()
	if err := s.plans.CompletePlans(ctx, consumed, now); err != nil {
		return res, fmt.Errorf("shard %d: complete plans: %w", index, err)
	}
	s.emitter.EmitPlansCompleted(consumed, now)
	return res, nil
}

type outcome int

const (
	outcomeTask outcome = iota
	outcomeEmpty
	outcomeOversize
	outcomeSkipped
	outcomeFailed
)

func (s *Scheduler) processPlan(ctx context.Context, p Plan) (outcome, error) {
	p.Profile = p.Profile.WithDefaultRatios(s.cfg.WeightRatio, s.cfg.VolumeRatio)
	if err := p.Validate(); err != nil {
		log.Printf("scheduler: skipping plan %d: %v", p.ID, err)
		s.emitter.EmitPlanSkipped(p.ID, err.Error())
		return outcomeSkipped, nil
	}

	c := p.Corridor()
	var lease *corridor.Lease
	err := corridor.Retry(ctx, s.cfg.RetryMaxElapsed, func() error {
		var err error
		lease, err = s.locker.Acquire(ctx, c)
		return err
	})
	if err != nil {
		return outcomeFailed, fmt.Errorf("lock %s: %w", c, err)
	}

	load, batchErr := s.batcher.Batch(ctx, c, p.Profile)
	out := outcomeEmpty
	var oversize *OversizeError
	if errors.As(batchErr, &oversize) {
		s.handleOversize(ctx, oversize)
		batchErr = nil
		out = outcomeOversize
	}

	// released even when ctx is done, or the corridor stays shut for a lease
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		log.Printf("scheduler: plan %d: %v", p.ID, err)
	}

	if len(load) > 0 {
		s.emitter.EmitTaskCreated(NewTask(p, load))
		out = outcomeTask
	}
	if batchErr != nil {
		if len(load) == 0 {
			return outcomeFailed, fmt.Errorf("batch %s: %w", c, batchErr)
		}
		log.Printf("scheduler: plan %d: batch stopped early with %d waybills: %v", p.ID, len(load), batchErr)
	}
	return out, nil
}

// handleOversize counts how often a head waybill alone overflowed a vehicle.
// Past the configured limit it is taken off the corridor so it stops
// blocking the queue; either way an alert goes out. Runs under the lock.
func (s *Scheduler) handleOversize(ctx context.Context, e *OversizeError) {
	attempts, err := s.queue.RecordOversize(ctx, e.Corridor, e.WaybillID)
	if err != nil {
		log.Printf("scheduler: record oversize %d: %v", e.WaybillID, err)
		return
	}
	if attempts < s.cfg.MaxOversizeAttempts {
		log.Printf("scheduler: %v (attempt %d/%d)", e, attempts, s.cfg.MaxOversizeAttempts)
		s.emitter.EmitWaybillOversize(e.WaybillID, e.Corridor, attempts, false)
		return
	}

	head, err := s.queue.DequeueOldest(ctx, e.Corridor)
	if err != nil {
		log.Printf("scheduler: divert oversize %d: %v", e.WaybillID, err)
		return
	}
	if head == nil {
		return
	}
	if head.WaybillID != e.WaybillID {
		if err := s.queue.PushBack(ctx, e.Corridor, *head); err != nil {
			log.Printf("scheduler: restore head %d: %v", head.WaybillID, err)
		}
		return
	}
	if err := s.queue.ClearSeen(ctx, e.Corridor, e.WaybillID); err != nil {
		log.Printf("scheduler: clear dedup for oversize %d: %v", e.WaybillID, err)
	}
	if err := s.queue.ResetOversize(ctx, e.Corridor, e.WaybillID); err != nil {
		log.Printf("scheduler: reset oversize %d: %v", e.WaybillID, err)
	}
	log.Printf("scheduler: diverted %v after %d attempts", e, attempts)
	s.emitter.EmitWaybillOversize(e.WaybillID, e.Corridor, attempts, true)
}
