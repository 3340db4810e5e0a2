// Package scheduler runs daily jobs at local wall-clock times.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/clock"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Registrar registers daily jobs.
type Registrar interface {
	RegisterDaily(name string, at clock.TimeOfDay, job Job) error
}

// Scheduler fires registered jobs once a day in a fixed timezone. A run is
// skipped while the previous run of the same job is still going.
type Scheduler struct {
	cron    *cron.Cron
	loc     *time.Location
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a stopped scheduler. Each run is bounded by timeout when it
// is positive.
func New(loc *time.Location, timeout time.Duration) *Scheduler {
	logger := cronLogger{zap.L().Sugar().Named("scheduler")}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		loc:     loc,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// RegisterDaily runs job every day at the given local time.
func (s *Scheduler) RegisterDaily(name string, at clock.TimeOfDay, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return eris.Errorf("scheduler: job %q already registered", name)
	}
	spec := fmt.Sprintf("CRON_TZ=%s %d %d * * *", s.loc, at.Minute, at.Hour)
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return eris.Wrapf(err, "scheduler: register %q", name)
	}
	s.entries[name] = id
	zap.L().Info("scheduler: job registered",
		zap.String("job", name),
		zap.String("at", at.String()),
		zap.String("timezone", s.loc.String()),
	)
	return nil
}

// Next returns the next run time of the named job.
func (s *Scheduler) Next(name string, from time.Time) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Schedule.Next(from), true
}

// RunNow executes the named job synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string, job Job) error {
	return s.execute(ctx, name, job)
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	zap.L().Info("scheduler: started", zap.Int("jobs", len(s.entries)))
}

// Stop stops firing new runs and waits for running ones until ctx is done.
// Jobs still running when ctx expires have their context cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	defer s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		zap.L().Info("scheduler: stopped")
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "scheduler: waiting for running jobs")
	}
}

func (s *Scheduler) run(name string, job Job) {
	_ = s.execute(s.ctx, name, job)
}

func (s *Scheduler) execute(ctx context.Context, name string, job Job) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	log := zap.L().With(zap.String("job", name))
	start := time.Now()
	log.Info("scheduler: job started")
	if err := job(ctx); err != nil {
		log.Error("scheduler: job failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return err
	}
	log.Info("scheduler: job finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// cronLogger routes cron's internal logs to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
