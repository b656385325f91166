// Package redisqueue is a delayed-task provider on a Redis sorted set scored
// by run-at time. Due tasks are claimed atomically with a Lua script.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/taskqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	Name = "redis"

	defaultPrefix       = "taskqueue"
	defaultPollInterval = time.Second
	defaultBatch        = 50
	defaultMaxAttempts  = 5
	retention           = 7 * 24 * time.Hour
)

// claimScript pops up to ARGV[2] members scored at or below ARGV[1].
const claimScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, member in ipairs(due) do
  redis.call("ZREM", KEYS[1], member)
end
return due
`

type Options struct {
	Prefix       string
	PollInterval time.Duration
	Batch        int
	MaxAttempts  int
}

type Queue struct {
	client redis.UniversalClient
	log    *zap.Logger
	clock  clock.Clock
	opts   Options
	claim  *redis.Script
}

func New(client redis.UniversalClient, log *zap.Logger, clk clock.Clock, opts Options) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Batch <= 0 {
		opts.Batch = defaultBatch
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Queue{
		client: client,
		log:    log.Named("taskqueue.redis"),
		clock:  clk,
		opts:   opts,
		claim:  redis.NewScript(claimScript),
	}
}

type Params struct {
	fx.In

	Client redis.UniversalClient `optional:"true"`
	Cfg    config.Config
	Log    *zap.Logger
	Clock  clock.Clock
}

// NewFactory registers the redis provider with the task queue registry.
func NewFactory(p Params) taskqueue.FactoryResult {
	return taskqueue.FactoryResult{Factory: taskqueue.Factory{
		Name: Name,
		New: func() (taskqueue.Provider, error) {
			if p.Client == nil {
				return nil, errors.New("redis task provider requires a redis client")
			}
			return New(p.Client, p.Log, p.Clock, Options{
				PollInterval: p.Cfg.Scheduler.PollInterval,
				Batch:        p.Cfg.Scheduler.PollBatch,
			}), nil
		},
	}}
}

func (q *Queue) Name() string { return Name }

func (q *Queue) Trigger(ctx context.Context, taskID string, payload json.RawMessage, runAt time.Time) (taskqueue.Handle, error) {
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
	if err := q.enqueue(ctx, env); err != nil {
		return "", err
	}
	return env.Handle, nil
}

func (q *Queue) enqueue(ctx context.Context, env taskqueue.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ttl := max(env.RunAt.Sub(q.clock.Now()), 0) + retention

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.taskKey(env.Handle), body, ttl)
		pipe.ZAdd(ctx, q.dueKey(), redis.Z{Score: float64(env.RunAt.UnixMilli()), Member: string(env.Handle)})
		return nil
	})
	return err
}

// Run polls for due tasks until ctx is done.
func (q *Queue) Run(ctx context.Context, deliver taskqueue.DeliverFunc) error {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := q.Poll(ctx, deliver); err != nil && ctx.Err() == nil {
			q.log.Warn("task poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll claims and delivers one batch of due tasks, returning how many were claimed.
func (q *Queue) Poll(ctx context.Context, deliver taskqueue.DeliverFunc) (int, error) {
	now := q.clock.Now()
	handles, err := q.claim.Run(ctx, q.client, []string{q.dueKey()}, now.UnixMilli(), q.opts.Batch).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	for i, handle := range handles {
		if err := ctx.Err(); err != nil {
			q.release(ctx, handles[i:])
			return len(handles), err
		}
		env, ok, err := q.load(ctx, taskqueue.Handle(handle))
		if err != nil {
			q.release(ctx, handles[i:])
			return len(handles), err
		}
		if !ok {
			q.log.Warn("claimed task has no body", zap.String("handle", handle))
			continue
		}
		env.Attempt++
		q.handle(ctx, env, deliver)
	}
	return len(handles), nil
}

// release puts claimed but undelivered handles back as due now. Their bodies are untouched.
func (q *Queue) release(ctx context.Context, handles []string) {
	if len(handles) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	score := float64(q.clock.Now().UnixMilli())
	members := make([]redis.Z, 0, len(handles))
	for _, handle := range handles {
		members = append(members, redis.Z{Score: score, Member: handle})
	}
	if err := q.client.ZAdd(ctx, q.dueKey(), members...).Err(); err != nil {
		q.log.Error("claimed tasks could not be released", zap.Strings("handles", handles), zap.Error(err))
		return
	}
	q.log.Info("claimed tasks released", zap.Int("count", len(handles)))
}

func (q *Queue) handle(ctx context.Context, env taskqueue.Envelope, deliver taskqueue.DeliverFunc) {
	log := q.log.With(zap.String("handle", string(env.Handle)), zap.String("task_id", env.TaskID))
	err := deliver(ctx, env.Delivery(Name))
	if err == nil {
		if err := q.client.Del(context.WithoutCancel(ctx), q.taskKey(env.Handle)).Err(); err != nil {
			log.Warn("task body cleanup failed", zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		// interrupted by shutdown; not counted as an attempt
		q.release(ctx, []string{string(env.Handle)})
		return
	}

	if env.Attempt >= q.opts.MaxAttempts {
		log.Error("task dropped after max attempts", zap.Int("attempt", env.Attempt), zap.Error(err))
		_ = q.client.Del(ctx, q.taskKey(env.Handle)).Err()
		return
	}
	env.RunAt = q.clock.Now().Add(backoff(env.Attempt))
	if err := q.enqueue(ctx, env); err != nil {
		log.Error("task requeue failed", zap.Error(err))
		return
	}
	log.Info("task requeued", zap.Int("attempt", env.Attempt), zap.Time("run_at", env.RunAt))
}

func (q *Queue) load(ctx context.Context, handle taskqueue.Handle) (taskqueue.Envelope, bool, error) {
	body, err := q.client.Get(ctx, q.taskKey(handle)).Bytes()
	if errors.Is(err, redis.Nil) {
		return taskqueue.Envelope{}, false, nil
	}
	if err != nil {
		return taskqueue.Envelope{}, false, err
	}
	var env taskqueue.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return taskqueue.Envelope{}, false, fmt.Errorf("decode task %s: %w", handle, err)
	}
	return env, true, nil
}

// Pending reports how many tasks are waiting, due or not.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.dueKey()).Result()
}

func (q *Queue) dueKey() string { return q.opts.Prefix + ":due" }

func (q *Queue) taskKey(handle taskqueue.Handle) string {
	return q.opts.Prefix + ":task:" + string(handle)
}

// backoff grows 5s, 10s, 20s... capped at five minutes.
func backoff(attempt int) time.Duration {
	d := 5 * time.Second << max(attempt-1, 0)
	return min(d, 5*time.Minute)
}

var Module = fx.Module("taskqueue.redis",
	fx.Provide(NewFactory),
)
