package cronjob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRunner(t *testing.T) (*Runner, *lock.Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	locker := lock.NewLocker(client)
	return New(Params{
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.SystemClock{},
		Locker: locker,
	}), locker
}

func TestRunJobRunsUnderLock(t *testing.T) {
	runner, locker := newTestRunner(t)
	ctx := context.Background()

	calls := 0
	job := Job{Name: "reconcile", Timeout: time.Second, Run: func(ctx context.Context) error {
		calls++
		_, held, err := locker.TryLock(ctx, lockPrefix+"reconcile", time.Minute)
		require.NoError(t, err)
		assert.False(t, held, "lease must be held while the job runs")
		return nil
	}}
	require.NoError(t, runner.RunJob(ctx, job))
	assert.Equal(t, 1, calls)

	// released after the run
	require.NoError(t, runner.RunJob(ctx, job))
	assert.Equal(t, 2, calls)
}

func TestRunJobSkipsWhenLockHeld(t *testing.T) {
	runner, locker := newTestRunner(t)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, lockPrefix+"rollover", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	err = runner.RunJob(ctx, Job{Name: "rollover", Run: func(context.Context) error {
		called = true
		return nil
	}})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRunJobErrors(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := runner.RunJob(ctx, Job{Name: "failing", Run: func(context.Context) error { return boom }})
	assert.ErrorIs(t, err, boom)

	err = runner.RunJob(ctx, Job{Name: "slow", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	assert.NoError(t, err, "deadline is a soft failure")
}

func TestAddValidates(t *testing.T) {
	runner, _ := newTestRunner(t)
	noop := func(context.Context) error { return nil }

	assert.ErrorIs(t, runner.Add(Job{Name: "", Spec: "@every 1m", Run: noop}), ErrInvalidJob)
	assert.ErrorIs(t, runner.Add(Job{Name: "bad_spec", Spec: "not a spec", Run: noop}), ErrInvalidJob)

	require.NoError(t, runner.Add(Job{Name: "ok", Spec: "@every 1m", Run: noop}))
	assert.ErrorIs(t, runner.Add(Job{Name: "ok", Spec: "@every 1m", Run: noop}), ErrInvalidJob)
	assert.Equal(t, []string{"ok"}, runner.Jobs())
}
