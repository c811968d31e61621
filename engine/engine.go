package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ichao15/slwl/config"
	"github.com/ichao15/slwl/corridor"
	"github.com/ichao15/slwl/dispatch"
	"github.com/ichao15/slwl/messaging"
	"github.com/ichao15/slwl/route"
	"github.com/ichao15/slwl/store"
	"github.com/ichao15/slwl/transport"
)

type LogFunc func(format string, args ...any)

// ConnectionChecker reports broker connectivity.
type ConnectionChecker interface {
	IsConnected() bool
}

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	Redis      *redis.Client
	MsgClient  ConnectionChecker
	LogFunc    LogFunc
}

type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	redis      *redis.Client
	msgClient  ConnectionChecker

	queue     *corridor.RedisQueue
	locker    *corridor.RedisLocker
	selector  *route.Selector
	orders    *transport.Manager
	scheduler *dispatch.Scheduler

	Events         *EventBus
	logFn          LogFunc
	stopChan       chan struct{}
	redisConnected bool
	msgConnected   bool
}

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		redis:      c.Redis,
		msgClient:  c.MsgClient,
		Events:     &EventBus{logFn: logFn},
		logFn:      logFn,
		stopChan:   make(chan struct{}),
	}

	d := &e.cfg.Dispatch
	e.queue = corridor.NewRedisQueue(c.Redis)
	e.locker = corridor.NewRedisLocker(c.Redis, corridor.LockConfig{
		Lease:   d.LockLease,
		Poll:    d.LockPoll,
		Timeout: d.LockTimeout,
	})
	e.selector = route.NewSelector(c.DB)
	e.orders = transport.NewManager(c.DB, e.selector, &orderEmitter{bus: e.Events})
	e.scheduler = dispatch.NewScheduler(dispatch.SchedulerConfig{
		Schedule:            d.Schedule,
		ShardTotal:          d.ShardTotal,
		Shards:              d.OwnedShards(),
		WeightRatio:         d.WeightRatio,
		VolumeRatio:         d.VolumeRatio,
		MaxBatchItems:       d.MaxBatchItems,
		MaxOversizeAttempts: int64(d.MaxOversizeAttempts),
		RetryMaxElapsed:     d.RetryMaxElapsed,
		ClaimTimeout:        d.ClaimTimeout,
	}, c.DB, e.locker, e.queue, &schedulerEmitter{bus: e.Events})
	return e
}

// Start wires the event handlers and starts the dispatch schedule.
func (e *Engine) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.db.SeedDispatchMethod(ctx, e.cfg.Dispatch.DefaultMethod); err != nil {
		return fmt.Errorf("seed dispatch method: %w", err)
	}

	e.wireEventHandlers()

	if err := e.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	e.checkConnectionStatus()
	go e.connectionHealthLoop()
	if e.cfg.Dispatch.RequeueAfter > 0 {
		go e.requeueLoop()
	}

	e.logFn("engine: started (schedule %q, shards %v of %d)", e.cfg.Dispatch.Schedule, e.cfg.Dispatch.OwnedShards(), e.cfg.Dispatch.ShardTotal)
	return nil
}

func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
		return
	default:
		close(e.stopChan)
	}
	e.scheduler.Stop()
	e.logFn("engine: stopped")
}

// InboundHandler routes inbound protocol messages into the corridor queue,
// the plan table and the order state machine.
func (e *Engine) InboundHandler() *messaging.CoreHandler {
	return messaging.NewCoreHandler(e.queue, e.db, e.orders)
}

// RunDispatch runs one scheduler pass outside the cron schedule.
func (e *Engine) RunDispatch(ctx context.Context) (dispatch.TickResult, error) {
	return e.scheduler.RunOnce(ctx)
}

// Accessors
func (e *Engine) DB() *store.DB                 { return e.db }
func (e *Engine) AppConfig() *config.Config     { return e.cfg }
func (e *Engine) ConfigPath() string            { return e.configPath }
func (e *Engine) Orders() *transport.Manager    { return e.orders }
func (e *Engine) Selector() *route.Selector     { return e.selector }
func (e *Engine) Queue() *corridor.RedisQueue   { return e.queue }
func (e *Engine) Locker() *corridor.RedisLocker { return e.locker }

// PingRedis checks the corridor store.
func (e *Engine) PingRedis(ctx context.Context) error {
	return e.redis.Ping(ctx).Err()
}

// MessagingConnected reports broker connectivity; false without a client.
func (e *Engine) MessagingConnected() bool {
	return e.msgClient != nil && e.msgClient.IsConnected()
}

func (e *Engine) checkConnectionStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	err := e.redis.Ping(ctx).Err()
	cancel()
	if err == nil {
		if !e.redisConnected {
			e.redisConnected = true
			e.Events.Emit(Event{Type: EventRedisConnected, Payload: ConnectionEvent{Detail: "redis connected"}})
		}
	} else if e.redisConnected {
		e.redisConnected = false
		e.Events.Emit(Event{Type: EventRedisDisconnected, Payload: ConnectionEvent{Detail: err.Error()}})
	}

	if e.msgClient == nil {
		return
	}
	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else if e.msgConnected {
		e.msgConnected = false
		e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
	}
}

// requeueBatch bounds how many stale orders one sweep re-announces.
const requeueBatch = 500

// RequeueStale re-announces orders that have waited for a vehicle longer
// than the requeue window, recovering queue requests lost in transit.
func (e *Engine) RequeueStale(ctx context.Context) (int, error) {
	n, err := e.orders.RequeueStale(ctx, time.Now().Add(-e.cfg.Dispatch.RequeueAfter), requeueBatch)
	if n > 0 {
		e.logFn("engine: requeued %d stale order(s)", n)
	}
	return n, err
}

func (e *Engine) requeueLoop() {
	every := min(e.cfg.Dispatch.RequeueAfter/2, time.Minute)
	every = max(every, time.Second)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if _, err := e.RequeueStale(context.Background()); err != nil {
				e.logFn("engine: requeue stale orders: %v", err)
			}
		}
	}
}

func (e *Engine) connectionHealthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}
