package providers

import (
	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/providers/email"
	"github.com/smallbiznis/botledger/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	fx.Provide(NewSlack),
	fx.Provide(NewNotifier),
)

// NewSlack returns a no-op provider when SLACK_WEBHOOK_URL is unset.
func NewSlack(cfg config.Config) slack.Provider {
	if cfg.Notify.SlackWebhookURL == "" {
		return &slack.NoOpProvider{}
	}
	return slack.NewWebhook(cfg.Notify.SlackWebhookURL, nil)
}
