// Package cronqueue is an in-process delayed-task provider built on one-shot
// cron entries. Tasks live in memory and are lost on restart.
package cronqueue

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/botledger/internal/cronjob"
	"github.com/smallbiznis/botledger/internal/taskqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	Name = "cron"

	defaultMaxAttempts = 3
	retryDelay         = 10 * time.Second
)

// once fires at the first tick at or after at, then never again.
type once struct {
	at    time.Time
	fired bool
}

func (s *once) Next(t time.Time) time.Time {
	if s.fired {
		return time.Time{}
	}
	s.fired = true
	if s.at.After(t) {
		return s.at
	}
	return t
}

type Queue struct {
	log         *zap.Logger
	cron        *cron.Cron
	maxAttempts int

	mu      sync.Mutex
	entries map[taskqueue.Handle]cron.EntryID
	ctx     context.Context
	deliver taskqueue.DeliverFunc
}

func New(log *zap.Logger) *Queue {
	log = log.Named("taskqueue.cron")
	return &Queue{
		log:         log,
		cron:        cron.New(cron.WithChain(cron.Recover(cronjob.Logger(log)))),
		maxAttempts: defaultMaxAttempts,
		entries:     make(map[taskqueue.Handle]cron.EntryID),
	}
}

type Params struct {
	fx.In

	Log *zap.Logger
}

func NewFactory(p Params) taskqueue.FactoryResult {
	return taskqueue.FactoryResult{Factory: taskqueue.Factory{
		Name: Name,
		New: func() (taskqueue.Provider, error) {
			p.Log.Warn("cron task provider keeps tasks in memory; pending tasks are lost on restart")
			return New(p.Log), nil
		},
	}}
}

func (q *Queue) Name() string { return Name }

func (q *Queue) Trigger(_ context.Context, taskID string, payload json.RawMessage, runAt time.Time) (taskqueue.Handle, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return "", taskqueue.ErrEmptyTaskID
	}
	env := taskqueue.Envelope{
		Handle:  taskqueue.Handle(uuid.NewString()),
		TaskID:  taskID,
		Payload: payload,
		RunAt:   runAt.UTC(),
	}
	q.schedule(env)
	return env.Handle, nil
}

func (q *Queue) schedule(env taskqueue.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.cron.Schedule(&once{at: env.RunAt}, cron.FuncJob(func() { q.fire(env) }))
	q.entries[env.Handle] = id
}

func (q *Queue) fire(env taskqueue.Envelope) {
	q.mu.Lock()
	if id, ok := q.entries[env.Handle]; ok {
		q.cron.Remove(id)
		delete(q.entries, env.Handle)
	}
	ctx, deliver := q.ctx, q.deliver
	q.mu.Unlock()
	if deliver == nil {
		return
	}

	env.Attempt++
	err := deliver(ctx, env.Delivery(Name))
	if err == nil {
		return
	}
	log := q.log.With(zap.String("task_id", env.TaskID), zap.Int("attempt", env.Attempt), zap.Error(err))
	if env.Attempt >= q.maxAttempts {
		log.Error("task dropped after max attempts")
		return
	}
	env.RunAt = time.Now().UTC().Add(retryDelay)
	q.schedule(env)
	log.Info("task requeued", zap.Time("run_at", env.RunAt))
}

// Pending reports tasks not yet fired.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run starts the cron loop and blocks until ctx is done.
func (q *Queue) Run(ctx context.Context, deliver taskqueue.DeliverFunc) error {
	q.mu.Lock()
	q.ctx, q.deliver = ctx, deliver
	q.mu.Unlock()

	q.cron.Start()
	<-ctx.Done()
	<-q.cron.Stop().Done()
	return ctx.Err()
}

var Module = fx.Module("taskqueue.cron",
	fx.Provide(NewFactory),
)
