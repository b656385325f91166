package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/botledger/internal/clock"
	obsmetrics "github.com/smallbiznis/botledger/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct{ name string }

func (p fakeProvider) Name() string { return p.name }

func (p fakeProvider) Trigger(context.Context, string, json.RawMessage, time.Time) (Handle, error) {
	return Handle(p.name + "-1"), nil
}

func TestRegistryOpen(t *testing.T) {
	built := 0
	reg := NewRegistry(RegistryParams{Factories: []Factory{
		{Name: "redis", New: func() (Provider, error) {
			built++
			return fakeProvider{name: "redis"}, nil
		}},
		{Name: "amqp", New: func() (Provider, error) { return nil, errors.New("dial refused") }},
	}})

	p, err := reg.Open(" Redis ")
	require.NoError(t, err)
	assert.Equal(t, "redis", p.Name())
	_, err = reg.Open("redis")
	require.NoError(t, err)
	assert.Equal(t, 1, built, "providers are built once")

	_, err = reg.Open("amqp")
	assert.ErrorContains(t, err, "dial refused")

	_, err = reg.Open("temporal")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	assert.Equal(t, []string{"amqp", "redis"}, reg.Names())
}

func TestDispatcher(t *testing.T) {
	d := NewDispatcher(DispatcherParams{Log: zap.NewNop(), Clock: clock.NewFakeClock(time.Now())})
	ctx := context.Background()

	var got Delivery
	d.Handle("reengagement.send", func(_ context.Context, delivery Delivery) error {
		got = delivery
		return nil
	})
	d.Handle("always.skip", func(context.Context, Delivery) error {
		return ErrSkipped
	})
	boom := errors.New("smtp down")
	d.Handle("always.fail", func(context.Context, Delivery) error { return boom })

	delivery := Delivery{TaskID: "reengagement.send", Handle: "h1", Payload: json.RawMessage(`{"a":1}`)}
	require.NoError(t, d.Dispatch(ctx, delivery))
	assert.Equal(t, delivery, got)

	assert.NoError(t, d.Dispatch(ctx, Delivery{TaskID: "always.skip"}))
	assert.ErrorIs(t, d.Dispatch(ctx, Delivery{TaskID: "always.fail"}), boom)
	assert.ErrorIs(t, d.Dispatch(ctx, Delivery{TaskID: "unknown"}), obsmetrics.ErrNoHandler)
}
