package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/smallbiznis/botledger/internal/clock"
	obsmetrics "github.com/smallbiznis/botledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrSkipped is returned by handlers that deliberately did nothing, such as
// for a cancelled schedule. It is not retried.
var ErrSkipped = errors.New("task_skipped")

type HandlerFunc func(ctx context.Context, d Delivery) error

type DispatcherParams struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *obsmetrics.TaskMetrics `optional:"true"`
}

// Dispatcher routes deliveries to handlers keyed by task id.
type Dispatcher struct {
	log     *zap.Logger
	clock   clock.Clock
	metrics *obsmetrics.TaskMetrics

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		log:      p.Log.Named("taskqueue.dispatcher"),
		clock:    p.Clock,
		metrics:  p.Metrics,
		handlers: make(map[string]HandlerFunc),
	}
}

func (d *Dispatcher) Handle(taskID string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[strings.TrimSpace(taskID)] = h
}

// Dispatch runs the handler for delivery. Skipped tasks report nil.
func (d *Dispatcher) Dispatch(ctx context.Context, delivery Delivery) error {
	d.mu.RLock()
	handler, ok := d.handlers[delivery.TaskID]
	d.mu.RUnlock()

	log := d.log.With(
		zap.String("task_id", delivery.TaskID),
		zap.String("handle", string(delivery.Handle)),
		zap.String("provider", delivery.Provider),
	)
	start := d.clock.Now()
	if !delivery.RunAt.IsZero() {
		d.metrics.ObserveLag(start.Sub(delivery.RunAt))
	}

	if !ok {
		d.metrics.ObserveTask(delivery.Provider, delivery.TaskID, obsmetrics.TaskOutcomeFailed, 0)
		d.metrics.IncTaskError(delivery.TaskID, obsmetrics.ErrNoHandler)
		log.Error("no handler registered for task")
		return fmt.Errorf("%w: %s", obsmetrics.ErrNoHandler, delivery.TaskID)
	}

	err := handler(ctx, delivery)
	took := d.clock.Now().Sub(start)
	switch {
	case err == nil:
		d.metrics.ObserveTask(delivery.Provider, delivery.TaskID, obsmetrics.TaskOutcomeDone, took)
		log.Debug("task handled", zap.Duration("took", took))
		return nil
	case errors.Is(err, ErrSkipped):
		d.metrics.ObserveTask(delivery.Provider, delivery.TaskID, obsmetrics.TaskOutcomeSkipped, took)
		log.Info("task skipped", zap.Error(err))
		return nil
	default:
		d.metrics.ObserveTask(delivery.Provider, delivery.TaskID, obsmetrics.TaskOutcomeFailed, took)
		d.metrics.IncTaskError(delivery.TaskID, err)
		log.Warn("task failed", zap.Int("attempt", delivery.Attempt), zap.Error(err))
		return err
	}
}

// Deliver adapts the dispatcher to a Consumer's DeliverFunc.
func (d *Dispatcher) Deliver() DeliverFunc {
	return func(ctx context.Context, delivery Delivery) error {
		return d.Dispatch(ctx, delivery)
	}
}
