package cronjob

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("cronjob",
	fx.Provide(New),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, r *Runner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			r.Start()
			return nil
		},
		OnStop: r.Stop,
	})
}
