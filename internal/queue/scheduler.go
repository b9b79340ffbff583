package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTickInterval = 15 * time.Second
	defaultLockTTL      = 2 * time.Minute
	defaultLockKey      = "sched:lock:embedding-queue"
)

// releaseLock deletes the lock only while it still holds this tick's token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Drainer runs one processing pass.
type Drainer interface {
	ProcessQueue(ctx context.Context, maxPerRun int, now time.Time) (Result, error)
}

type SchedulerOptions struct {
	Cron         string
	TickInterval time.Duration
	MaxPerRun    int
	LockTTL      time.Duration
	LockKey      string
}

// Scheduler drains the queue whenever its cron expression comes due. With a
// redis client, a SetNX lock keeps replicas from draining concurrently.
type Scheduler struct {
	logger    *log.Logger
	drainer   Drainer
	rdb       *redis.Client
	expr      *cronexpr.Expression
	tick      time.Duration
	maxPerRun int
	lockTTL   time.Duration
	lockKey   string
	now       func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

func NewScheduler(logger *log.Logger, d Drainer, rdb *redis.Client, opts SchedulerOptions) (*Scheduler, error) {
	if logger == nil {
		logger = log.Default()
	}
	expr, err := cronexpr.Parse(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", opts.Cron, err)
	}
	s := &Scheduler{
		logger:    logger,
		drainer:   d,
		rdb:       rdb,
		expr:      expr,
		tick:      opts.TickInterval,
		maxPerRun: opts.MaxPerRun,
		lockTTL:   opts.LockTTL,
		lockKey:   opts.LockKey,
		now:       time.Now,
	}
	if s.tick <= 0 {
		s.tick = defaultTickInterval
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.lockKey == "" {
		s.lockKey = defaultLockKey
	}
	return s, nil
}

// Run drains once immediately, then on every tick where the cron schedule is
// due. It returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Printf("scheduler starting; tick %s", s.tick)
	s.runTick(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("scheduler stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	res, ran, err := s.RunTick(ctx)
	if err != nil {
		s.logger.Printf("tick failed: %v", err)
		return
	}
	if ran && res.Processed > 0 {
		s.logger.Printf("drained %d jobs (stopped early: %t)", res.Processed, res.StoppedEarly)
	}
}

// RunTick drains the queue if the schedule is due and the lock is free. ran
// is false when the tick was skipped.
func (s *Scheduler) RunTick(ctx context.Context) (res Result, ran bool, err error) {
	now := s.now()
	if !s.due(now) {
		return Result{}, false, nil
	}
	if s.rdb != nil {
		token := uuid.NewString()
		ok, err := s.rdb.SetNX(ctx, s.lockKey, token, s.lockTTL).Result()
		if err != nil {
			return Result{}, false, fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			return Result{}, false, nil
		}
		defer s.unlock(context.WithoutCancel(ctx), token)
	}

	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()

	res, err = s.drainer.ProcessQueue(ctx, s.maxPerRun, now)
	if err != nil {
		return res, true, fmt.Errorf("process queue: %w", err)
	}
	return res, true, nil
}

// unlock releases the tick lock unless it expired and another replica took it.
func (s *Scheduler) unlock(ctx context.Context, token string) {
	if err := releaseLock.Run(ctx, s.rdb, []string{s.lockKey}, token).Err(); err != nil {
		s.logger.Printf("release tick lock: %v", err)
	}
}

// due reports whether the cron schedule fired since the last run. The first
// call is always due.
func (s *Scheduler) due(now time.Time) bool {
	last := s.LastRun()
	if last.IsZero() {
		return true
	}
	next := s.expr.Next(last)
	return !next.IsZero() && !next.After(now)
}

// LastRun returns when the scheduler last drained, zero before the first run.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
