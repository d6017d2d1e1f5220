package distribution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule fires at 08:00, 12:00, 16:00 and 20:00.
const DefaultSchedule = "0 8,12,16,20 * * *"

// Scheduler triggers cycles on a cron schedule. A trigger that fires while
// the previous cycle is still running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	entry  cron.EntryID
	loc    *time.Location
	logger *zap.Logger

	mu  sync.Mutex
	ctx context.Context
}

// NewScheduler registers run under spec in loc.
func NewScheduler(spec string, loc *time.Location, run func(ctx context.Context), logger *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clog := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		loc:    loc,
		logger: logger,
		ctx:    context.Background(),
	}
	id, err := s.cron.AddFunc(spec, func() { run(s.runContext()) })
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing; cycles receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Time("next_run", s.Next()), zap.String("timezone", s.loc.String()))
}

// Stop halts the schedule and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next fire time in the scheduler's location.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next.In(s.loc)
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
