package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/scheduler/domain"
	"github.com/smallbiznis/botledger/internal/scheduler/repository"
	"github.com/smallbiznis/botledger/internal/taskqueue"
	"github.com/smallbiznis/botledger/pkg/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type trigger struct {
	taskID  string
	payload json.RawMessage
	runAt   time.Time
}

type fakeProvider struct {
	triggers []trigger
	err      error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Trigger(_ context.Context, taskID string, payload json.RawMessage, runAt time.Time) (taskqueue.Handle, error) {
	if p.err != nil {
		return "", p.err
	}
	p.triggers = append(p.triggers, trigger{taskID: taskID, payload: payload, runAt: runAt})
	return taskqueue.Handle("handle-" + taskID), nil
}

type brokenStore struct{}

var errUnreachable = errors.New("kv unreachable")

func (brokenStore) Get(context.Context, string) (string, bool, error) { return "", false, errUnreachable }
func (brokenStore) Set(context.Context, string, string, time.Duration) error {
	return errUnreachable
}
func (brokenStore) Del(context.Context, ...string) error           { return errUnreachable }
func (brokenStore) Keys(context.Context, string) ([]string, error) { return nil, errUnreachable }

func newTestService(clk clock.Clock, store kvstore.Store, provider taskqueue.Provider) domain.Service {
	return NewService(Params{
		Log:      zap.NewNop(),
		Clock:    clk,
		Cfg:      config.Config{Scheduler: config.SchedulerConfig{ScheduleTTL: 7 * 24 * time.Hour}},
		Repo:     repository.Provide(store),
		Provider: provider,
	})
}

func TestScheduleThenCancelByContactKey(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	provider := &fakeProvider{}
	svc := newTestService(fake, kvstore.NewMemoryStore().WithClock(fake.Now), provider)

	meta := domain.ScheduleMetadata{ContactID: "c1", Provider: "gohighlevel", TriggerType: "no_show"}
	res, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{
		TaskID:   "t1",
		Delay:    domain.Delay{Duration: "1h"},
		Payload:  map[string]any{"message": "hi"},
		Metadata: meta,
	})
	require.NoError(t, err)
	assert.Len(t, res.ScheduleID, 26)
	assert.Equal(t, "t1", res.TaskID)
	assert.Equal(t, fake.Now().Add(time.Hour), res.ScheduledAt)
	assert.Equal(t, meta, res.Metadata)

	require.Len(t, provider.triggers, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(provider.triggers[0].payload, &payload))
	assert.Equal(t, res.ScheduleID, payload["schedule_id"])
	assert.Equal(t, "hi", payload["message"])
	assert.Equal(t, res.ScheduledAt, provider.triggers[0].runAt)

	assert.False(t, svc.IsScheduleCancelled(ctx, res.ScheduleID))
	listed, err := svc.ListSchedules(ctx, "c1", "")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	ok, err := svc.CancelSchedule(ctx, domain.CancelRequest{ContactID: "c1", Provider: "gohighlevel", TriggerType: "no_show"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, svc.IsScheduleCancelled(ctx, res.ScheduleID))

	listed, err = svc.ListSchedules(ctx, "c1", "")
	require.NoError(t, err)
	assert.Empty(t, listed)

	// The index entry is consumed by the first cancel.
	ok, err = svc.CancelSchedule(ctx, domain.CancelRequest{ContactID: "c1", Provider: "gohighlevel", TriggerType: "no_show"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelByScheduleID(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(clock.SystemClock{}, kvstore.NewMemoryStore(), &fakeProvider{})

	res, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{TaskID: "t1", Delay: domain.Delay{Duration: "10s"}})
	require.NoError(t, err)

	ok, err := svc.CancelSchedule(ctx, domain.CancelRequest{ScheduleID: res.ScheduleID})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, svc.IsScheduleCancelled(ctx, res.ScheduleID))

	ok, err = svc.CancelSchedule(ctx, domain.CancelRequest{ScheduleID: "missing"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CancelSchedule(ctx, domain.CancelRequest{ContactID: "c1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSchedulesWithoutContact(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(clock.SystemClock{}, kvstore.NewMemoryStore(), &fakeProvider{})

	later, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{TaskID: "later", Delay: domain.Delay{Duration: "2h"}})
	require.NoError(t, err)
	soon, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{TaskID: "soon", Delay: domain.Delay{Duration: "30m"}})
	require.NoError(t, err)
	gone, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{TaskID: "gone", Delay: domain.Delay{Duration: "1m"}})
	require.NoError(t, err)
	_, err = svc.CancelSchedule(ctx, domain.CancelRequest{ScheduleID: gone.ScheduleID})
	require.NoError(t, err)

	listed, err := svc.ListSchedules(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, soon.ScheduleID, listed[0].ScheduleID)
	assert.Equal(t, later.ScheduleID, listed[1].ScheduleID)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), listed[0].ScheduledAt, time.Second)
}

func TestListSchedulesNarrowsByProvider(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(clock.SystemClock{}, kvstore.NewMemoryStore(), &fakeProvider{})

	for _, provider := range []string{"gohighlevel", "hubspot"} {
		_, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{
			TaskID:   "t1",
			Delay:    domain.Delay{Duration: "1d"},
			Metadata: domain.ScheduleMetadata{ContactID: "c*1", Provider: provider, TriggerType: "no_show"},
		})
		require.NoError(t, err)
	}
	_, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{
		TaskID:   "t1",
		Delay:    domain.Delay{Duration: "1d"},
		Metadata: domain.ScheduleMetadata{ContactID: "c21", Provider: "hubspot", TriggerType: "no_show"},
	})
	require.NoError(t, err)

	all, err := svc.ListSchedules(ctx, "c*1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	narrowed, err := svc.ListSchedules(ctx, "c*1", "hubspot")
	require.NoError(t, err)
	require.Len(t, narrowed, 1)
	assert.Equal(t, "hubspot", narrowed[0].Metadata.Provider)
}

func TestListSchedulesByProviderWithoutContact(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(clock.SystemClock{}, kvstore.NewMemoryStore(), &fakeProvider{})

	for i, provider := range []string{"gohighlevel", "hubspot", "hubspot"} {
		_, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{
			TaskID:   "t1",
			Delay:    domain.Delay{Duration: "1h"},
			Metadata: domain.ScheduleMetadata{ContactID: fmt.Sprintf("c%d", i), Provider: provider, TriggerType: "no_show"},
		})
		require.NoError(t, err)
	}

	listed, err := svc.ListSchedules(ctx, "", "hubspot")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, item := range listed {
		assert.Equal(t, "hubspot", item.Metadata.Provider)
	}
}

func TestAbsoluteDelayBypassesParsing(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(clock.NewFakeClock(at.Add(-time.Hour)), kvstore.NewMemoryStore(), &fakeProvider{})

	res, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{TaskID: "t1", Delay: domain.Delay{Duration: "bogus", At: &at}})
	require.NoError(t, err)
	assert.Equal(t, at, res.ScheduledAt)
}

func TestScheduleRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	svc := newTestService(clock.SystemClock{}, kvstore.NewMemoryStore(), provider)

	for _, raw := range []string{"", "10", "1w", "-5m", "5 m", "1.5h", " 5m"} {
		_, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{TaskID: "t1", Delay: domain.Delay{Duration: raw}})
		assert.ErrorIs(t, err, domain.ErrInvalidDelay, raw)
	}
	_, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{Delay: domain.Delay{Duration: "5m"}})
	assert.ErrorIs(t, err, domain.ErrInvalidTaskID)
	assert.Empty(t, provider.triggers)
}

func TestProviderFailureIsReturned(t *testing.T) {
	svc := newTestService(clock.SystemClock{}, kvstore.NewMemoryStore(), &fakeProvider{err: taskqueue.ErrProviderClosed})
	_, err := svc.ScheduleTask(context.Background(), domain.ScheduleTaskRequest{TaskID: "t1", Delay: domain.Delay{Duration: "5m"}})
	assert.ErrorIs(t, err, taskqueue.ErrProviderClosed)
}

func TestUnreachableStoreFailsClosed(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(clock.SystemClock{}, brokenStore{}, &fakeProvider{})

	assert.True(t, svc.IsScheduleCancelled(ctx, "01J0000000000000000000000"))
	assert.True(t, svc.IsScheduleCancelled(ctx, ""))

	_, err := svc.ListSchedules(ctx, "", "")
	assert.ErrorIs(t, err, errUnreachable)
	ok, err := svc.CancelSchedule(ctx, domain.CancelRequest{ScheduleID: "x"})
	assert.ErrorIs(t, err, errUnreachable)
	assert.False(t, ok)
}

func TestMissingRecordCountsAsCancelled(t *testing.T) {
	svc := newTestService(clock.SystemClock{}, kvstore.NewMemoryStore(), &fakeProvider{})
	assert.True(t, svc.IsScheduleCancelled(context.Background(), "never-scheduled"))
}

func TestRecordOutlivesFarFutureRun(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(fake, kvstore.NewMemoryStore().WithClock(fake.Now), &fakeProvider{})

	res, err := svc.ScheduleTask(ctx, domain.ScheduleTaskRequest{TaskID: "t1", Delay: domain.Delay{Duration: "10d"}})
	require.NoError(t, err)

	fake.Advance(10 * 24 * time.Hour)
	assert.False(t, svc.IsScheduleCancelled(ctx, res.ScheduleID))
	fake.Advance(2 * 24 * time.Hour)
	assert.True(t, svc.IsScheduleCancelled(ctx, res.ScheduleID))
}

func TestParseDelay(t *testing.T) {
	cases := map[string]time.Duration{
		"45s": 45 * time.Second,
		"30m": 30 * time.Minute,
		"2h":  2 * time.Hour,
		"3d":  72 * time.Hour,
		"0s":  0,
	}
	for raw, want := range cases {
		got, err := ParseDelay(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"99999999999999999999d", "106752d", "5w", "1.5h", ""} {
		_, err := ParseDelay(raw)
		assert.ErrorIs(t, err, domain.ErrInvalidDelay, raw)
	}
	got, err := ParseDelay("106751d")
	require.NoError(t, err)
	assert.Equal(t, 106751*24*time.Hour, got)
}
