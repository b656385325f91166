package taskqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/botledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("taskqueue",
	fx.Provide(NewRegistry),
	fx.Provide(NewDispatcher),
	fx.Provide(ProvideProvider),
)

// WorkerModule consumes tasks from the selected provider in this process.
var WorkerModule = fx.Module("taskqueue.worker",
	fx.Invoke(RunConsumer),
)

// ProvideProvider opens the provider named by SCHEDULER_PROVIDER.
func ProvideProvider(reg *Registry, cfg config.Config) (Provider, error) {
	return reg.Open(cfg.Scheduler.Provider)
}

// RunConsumer starts the provider's consume loop when it supports one.
func RunConsumer(lc fx.Lifecycle, provider Provider, dispatcher *Dispatcher, log *zap.Logger) error {
	consumer, ok := provider.(Consumer)
	if !ok {
		return fmt.Errorf("task provider %s cannot consume in process", provider.Name())
	}
	log = log.Named("taskqueue.worker").With(zap.String("provider", provider.Name()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				log.Info("task consumer started")
				if err := consumer.Run(ctx, dispatcher.Deliver()); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("task consumer stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
	return nil
}
