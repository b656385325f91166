// Package cronjob runs periodic maintenance jobs on a cron schedule, one node
// at a time.
package cronjob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/lock"
	obscontext "github.com/smallbiznis/botledger/internal/observability/context"
	obslogger "github.com/smallbiznis/botledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/botledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 5 * time.Minute
	lockPrefix     = "cronjob:"
)

var ErrInvalidJob = errors.New("cronjob_invalid")

// Job is one periodic unit of work.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	// LockTTL bounds how long a crashed holder blocks other nodes. Defaults to Timeout.
	LockTTL time.Duration
	Run     func(ctx context.Context) error
}

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Locker  *lock.Locker             `optional:"true"`
	Metrics *obsmetrics.TaskMetrics `optional:"true"`
}

type Runner struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	locker  *lock.Locker
	metrics *obsmetrics.TaskMetrics
	cron    *cron.Cron

	mu   sync.Mutex
	jobs map[string]Job
}

func New(p Params) *Runner {
	log := p.Log.Named("cronjob")
	return &Runner{
		log:     log,
		genID:   p.GenID,
		clock:   p.Clock,
		locker:  p.Locker,
		metrics: p.Metrics,
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{log: log.Sugar()}))),
		jobs:    make(map[string]Job),
	}
}

// Add registers job on its cron spec.
func (r *Runner) Add(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" || job.Run == nil {
		return ErrInvalidJob
	}
	if job.Timeout <= 0 {
		job.Timeout = defaultTimeout
	}
	if job.LockTTL <= 0 {
		job.LockTTL = job.Timeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Name]; exists {
		return fmt.Errorf("%w: duplicate job %s", ErrInvalidJob, job.Name)
	}
	if _, err := r.cron.AddFunc(job.Spec, func() {
		if err := r.RunJob(context.Background(), job); err != nil {
			r.log.Warn("cronjob run failed", zap.String("job", job.Name), zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidJob, job.Name, err)
	}
	r.jobs[job.Name] = job
	r.log.Info("cronjob scheduled", zap.String("job", job.Name), zap.String("spec", job.Spec))
	return nil
}

// RunJob executes job immediately under its lock. A job skipped because another
// node holds the lock returns nil. Deadline errors are soft and also return nil.
func (r *Runner) RunJob(parent context.Context, job Job) error {
	runID := r.genID.Generate().String()
	ctx := obscontext.WithRequestID(parent, runID)
	log := obslogger.WithContext(ctx, r.log).With(
		zap.String("job", job.Name),
		zap.String("run_id", runID),
	)

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := job.LockTTL
	if ttl <= 0 {
		ttl = timeout
	}

	start := r.clock.Now()
	ran, err := r.locker.Do(ctx, lockPrefix+job.Name, ttl, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		log.Info("cronjob.start")
		return job.Run(ctx)
	})
	if !ran && err == nil {
		r.metrics.IncLockSkipped(job.Name)
		log.Debug("cronjob.skipped", zap.String("reason", "lock_held"))
		return nil
	}

	took := r.clock.Now().Sub(start)
	r.metrics.ObserveJob(job.Name, took)
	if err == nil {
		log.Info("cronjob.finish", zap.Int64("duration_ms", took.Milliseconds()))
		return nil
	}

	r.metrics.IncTaskError(job.Name, err)
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("cronjob timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", job.Name, err)
}

// Jobs returns the registered job names.
func (r *Runner) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	return names
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop waits for running jobs or ctx, whichever ends first.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Logger returns a cron.Logger writing to log.
func Logger(log *zap.Logger) cron.Logger {
	return cronLogger{log: log.Sugar()}
}
