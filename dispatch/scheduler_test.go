package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ichao15/slwl/corridor"
)

// --- Mock emitter ---

type mockEmitter struct {
	mu        sync.Mutex
	tasks     []Task
	completed [][]int64
	skipped   []int64
	oversize  []emitOversize
}

type emitOversize struct {
	waybillID int64
	attempts  int64
	diverted  bool
}

func (m *mockEmitter) EmitTaskCreated(task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}
func (m *mockEmitter) EmitPlansCompleted(planIDs []int64, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, planIDs)
}
func (m *mockEmitter) EmitPlanSkipped(planID int64, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped = append(m.skipped, planID)
}
func (m *mockEmitter) EmitWaybillOversize(waybillID int64, _ corridor.Corridor, attempts int64, diverted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oversize = append(m.oversize, emitOversize{waybillID, attempts, diverted})
}

// --- Fake plan source ---

type fakePlans struct {
	mu        sync.Mutex
	pending   map[int64]Plan
	claimed   map[int64]Plan
	completed []int64
	released  []int64
	failShard map[int]bool
}

func newFakePlans(plans ...Plan) *fakePlans {
	f := &fakePlans{pending: make(map[int64]Plan), claimed: make(map[int64]Plan), failShard: make(map[int]bool)}
	for _, p := range plans {
		f.pending[p.ID] = p
	}
	return f
}

func (f *fakePlans) add(p Plan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[p.ID] = p
}

func (f *fakePlans) PullUnassigned(_ context.Context, total, index int, _ time.Time) ([]Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failShard[index] {
		return nil, errors.New("plan source unavailable")
	}
	var out []Plan
	for id, p := range f.pending {
		if int(id%int64(total)) == index {
			out = append(out, p)
			delete(f.pending, id)
			f.claimed[id] = p
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakePlans) CompletePlans(_ context.Context, ids []int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.claimed, id)
		f.completed = append(f.completed, id)
	}
	return nil
}

func (f *fakePlans) ReleasePlans(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if p, ok := f.claimed[id]; ok {
			delete(f.claimed, id)
			f.pending[id] = p
			f.released = append(f.released, id)
		}
	}
	return nil
}

// --- Locker that never grants ---

type refusingLocker struct{}

func (refusingLocker) Acquire(context.Context, corridor.Corridor) (*corridor.Lease, error) {
	return nil, corridor.ErrLockNotHeld
}

func plan(id int64, c corridor.Corridor, maxWeight float64) Plan {
	return Plan{
		ID:        id,
		TruckID:   id * 10,
		TripID:    id * 100,
		StartSite: c.Origin,
		EndSite:   c.Destination,
		DriverIDs: []int64{1, 2},
		Profile:   Profile{MaxWeight: maxWeight, MaxVolume: 100},
	}
}

func testScheduler(t *testing.T, cfg SchedulerConfig, plans *fakePlans) (*Scheduler, *corridor.RedisQueue, *mockEmitter) {
	t.Helper()
	q, client := testQueue(t)
	locker := corridor.NewRedisLocker(client, corridor.LockConfig{Lease: 3 * time.Second, Poll: 5 * time.Millisecond})
	if cfg.WeightRatio == 0 {
		cfg.WeightRatio, cfg.VolumeRatio = 0.95, 0.95
	}
	em := &mockEmitter{}
	return NewScheduler(cfg, plans, locker, q, em), q, em
}

func TestRunOnceBuildsTaskAndConsumesPlan(t *testing.T) {
	plans := newFakePlans(plan(1, lane, 1000))
	s, q, em := testScheduler(t, SchedulerConfig{}, plans)
	for i, w := range []float64{400, 400, 400} {
		enqueue(t, q, lane, int64(i+1), w)
	}

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Plans)
	assert.Equal(t, 1, res.Tasks)

	require.Len(t, em.tasks, 1)
	task := em.tasks[0]
	assert.Equal(t, []int64{1, 2}, task.WaybillIDs)
	assert.Equal(t, 800.0, task.TotalWeight)
	assert.Equal(t, int64(10), task.TruckID)
	assert.Equal(t, []int64{1, 2}, task.DriverIDs)
	assert.Equal(t, lane.Origin, task.StartSite)

	assert.Equal(t, [][]int64{{1}}, em.completed)
	assert.Equal(t, []int64{1}, plans.completed)

	n, err := q.Len(context.Background(), lane)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRunOnceEmptyCorridorStillConsumesPlan(t *testing.T) {
	plans := newFakePlans(plan(1, lane, 1000))
	s, _, em := testScheduler(t, SchedulerConfig{}, plans)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Empty)
	assert.Empty(t, em.tasks)
	assert.Equal(t, []int64{1}, plans.completed)
}

func TestRunOnceSkipsMalformedPlanWithoutStoppingSiblings(t *testing.T) {
	bad := plan(1, lane, 1000)
	bad.TripID = 0
	plans := newFakePlans(bad, plan(2, lane, 1000))
	s, q, em := testScheduler(t, SchedulerConfig{}, plans)
	enqueue(t, q, lane, 9, 100)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Tasks)
	assert.Equal(t, []int64{1}, em.skipped)
	require.Len(t, em.tasks, 1)
	assert.Equal(t, int64(2), em.tasks[0].PlanID)
}

func TestRunOnceOnlyPullsOwnedShards(t *testing.T) {
	plans := newFakePlans(plan(1, lane, 1000), plan(2, lane, 1000), plan(3, lane, 1000))
	s, _, _ := testScheduler(t, SchedulerConfig{ShardTotal: 2, Shards: []int{1}}, plans)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Plans)
	sort.Slice(plans.completed, func(i, j int) bool { return plans.completed[i] < plans.completed[j] })
	assert.Equal(t, []int64{1, 3}, plans.completed)
}

func TestRunOnceShardFailureDoesNotBlockOthers(t *testing.T) {
	plans := newFakePlans(plan(1, lane, 1000), plan(2, lane, 1000))
	plans.failShard[0] = true
	s, _, _ := testScheduler(t, SchedulerConfig{ShardTotal: 2}, plans)

	res, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, res.Plans)
	assert.Equal(t, []int64{1}, plans.completed)
}

func TestConcurrentShardsShareCorridorWithoutDoubleLoad(t *testing.T) {
	var all []Plan
	for id := int64(1); id <= 6; id++ {
		all = append(all, plan(id, lane, 500))
	}
	plans := newFakePlans(all...)
	s, q, em := testScheduler(t, SchedulerConfig{ShardTotal: 3}, plans)
	for id := int64(1); id <= 20; id++ {
		enqueue(t, q, lane, id, 100)
	}

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for _, task := range em.tasks {
		assert.Less(t, task.TotalWeight, 475.0)
		for _, id := range task.WaybillIDs {
			assert.False(t, seen[id], "waybill %d in two tasks", id)
			seen[id] = true
		}
	}
	// six trucks of four waybills each cover all twenty
	assert.Len(t, seen, 20)
}

func TestOversizeWaybillIsDivertedAfterLimit(t *testing.T) {
	plans := newFakePlans()
	s, q, em := testScheduler(t, SchedulerConfig{MaxOversizeAttempts: 3}, plans)
	ctx := context.Background()
	enqueue(t, q, lane, 77, 5000)
	enqueue(t, q, lane, 78, 100)

	for i := int64(1); i <= 3; i++ {
		plans.add(plan(i, lane, 1000))
		res, err := s.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Oversized)
	}

	require.Len(t, em.oversize, 3)
	assert.False(t, em.oversize[0].diverted)
	assert.False(t, em.oversize[1].diverted)
	assert.Equal(t, emitOversize{waybillID: 77, attempts: 3, diverted: true}, em.oversize[2])

	head, err := q.DequeueOldest(ctx, lane)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, int64(78), head.WaybillID)

	dup, err := q.IsDuplicate(ctx, lane, 77)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestConcurrentRunsBatchEachPlanOnce(t *testing.T) {
	plans := newFakePlans(plan(7, lane, 1000))
	s, q, em := testScheduler(t, SchedulerConfig{}, plans)
	ctx := context.Background()
	for id := int64(1); id <= 4; id++ {
		enqueue(t, q, lane, id, 300)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunOnce(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, em.tasks, 1)
	assert.Equal(t, []int64{1, 2, 3}, em.tasks[0].WaybillIDs)
	assert.Equal(t, []int64{7}, plans.completed)

	head, err := q.DequeueOldest(ctx, lane)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, int64(4), head.WaybillID)
}

func TestFailedPlanIsReleasedForNextTick(t *testing.T) {
	plans := newFakePlans(plan(1, lane, 1000))
	q, _ := testQueue(t)
	em := &mockEmitter{}
	s := NewScheduler(SchedulerConfig{WeightRatio: 0.95, VolumeRatio: 0.95, RetryMaxElapsed: 20 * time.Millisecond},
		plans, refusingLocker{}, q, em)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, plans.completed)
	assert.Equal(t, []int64{1}, plans.released)
	assert.Contains(t, plans.pending, int64(1))
	assert.Empty(t, em.completed)
}

func TestSchedulerStartRejectsBadSchedule(t *testing.T) {
	s, _, _ := testScheduler(t, SchedulerConfig{Schedule: "not a schedule"}, newFakePlans())
	assert.Error(t, s.Start())
}

func TestSchedulerStartStop(t *testing.T) {
	s, _, _ := testScheduler(t, SchedulerConfig{Schedule: "@every 1h"}, newFakePlans())
	require.NoError(t, s.Start())
	s.Stop()
}
