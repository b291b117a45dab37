// Package scheduler runs the periodic queue drain and expiration sweep on
// cron schedules, skipping a tick while another holder runs the same job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"assocmail/internal/application/orchestrators"
)

// Job names double as lock names.
const (
	JobProcessQueue   = "process_queue"
	JobExpiringSweep  = "expiring_sweep"
	defaultJobTimeout = 10 * time.Minute
)

// ErrUnknownJob is returned by RunNow for an unregistered name.
var ErrUnknownJob = errors.New("unknown scheduled job")

// Locker takes a named lock without waiting.
type Locker interface {
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}

// Job is one periodic task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns a cron instance and the jobs registered on it.
type Scheduler struct {
	cron   *cron.Cron
	locker Locker
	jobs   map[string]Job
	order  []string
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler evaluating schedules in loc.
// PRE: locker is non-nil; job names are unique
func New(locker Locker, loc *time.Location, jobs ...Job) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := cronLogger{zap.L().Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(logger)), cron.WithLogger(logger)),
		locker: locker,
		jobs:   make(map[string]Job, len(jobs)),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, j := range jobs {
		if j.Timeout <= 0 {
			j.Timeout = defaultJobTimeout
		}
		s.jobs[j.Name] = j
		s.order = append(s.order, j.Name)
	}
	return s
}

// Start registers every job and starts the cron loop.
// POST: Returns an error naming the first malformed schedule; nothing runs then
func (s *Scheduler) Start() error {
	for _, name := range s.order {
		j := s.jobs[name]
		if _, err := s.cron.AddFunc(j.Schedule, func() { s.tick(s.ctx, j) }); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.Name, j.Schedule, err)
		}
		zap.L().Info("job_scheduled", zap.String("job", j.Name), zap.String("schedule", j.Schedule))
	}
	s.cron.Start()
	return nil
}

// Stop cancels running ticks and stops the cron loop. The returned context
// is done once in-flight jobs have returned.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}

// RunNow runs a registered job once, under the same lock as a cron tick.
// POST: Returns false when the tick was skipped because the lock was held
func (s *Scheduler) RunNow(ctx context.Context, name string) (bool, error) {
	j, ok := s.jobs[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return s.tick(ctx, j)
}

func (s *Scheduler) tick(ctx context.Context, j Job) (bool, error) {
	release, ok, err := s.locker.TryLock(ctx, j.Name)
	if err != nil {
		zap.L().Error("job_lock_failed", zap.String("job", j.Name), zap.Error(err))
		return false, err
	}
	if !ok {
		zap.L().Info("job_skipped", zap.String("job", j.Name))
		return false, nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()
	start := time.Now()
	if err := j.Run(ctx); err != nil {
		zap.L().Error("job_failed", zap.String("job", j.Name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return true, err
	}
	zap.L().Debug("job_finished", zap.String("job", j.Name), zap.Duration("elapsed", time.Since(start)))
	return true, nil
}

// ProcessQueueJob drains up to batch due messages per tick.
func ProcessQueueJob(schedule string, batch int, deps orchestrators.ProcessQueueDeps) Job {
	return Job{
		Name:     JobProcessQueue,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := orchestrators.ExecuteProcessQueue(ctx, orchestrators.ProcessQueueInput{Limit: batch}, deps)
			return err
		},
	}
}

// ExpiringSweepJob queues renewal reminders for the 7, 3 and 1 day windows.
func ExpiringSweepJob(schedule string, deps orchestrators.ExpiringDeps) Job {
	return Job{
		Name:     JobExpiringSweep,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			counts, err := orchestrators.ExecuteCheckExpiringMemberships(ctx, deps)
			zap.L().Info("expiring_sweep_finished", zap.Any("queued", counts))
			return err
		},
	}
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

// TryLock implements Locker.
func (l *LocalLocker) TryLock(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, true, nil
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}
