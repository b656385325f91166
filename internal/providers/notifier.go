package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/providers/email"
	"github.com/smallbiznis/botledger/internal/providers/slack"
	"go.uber.org/zap"
)

// Notification is one outbound message to a contact and the team channel.
type Notification struct {
	ContactID string
	Email     string
	Name      string
	Template  string
	Summary   string
	Data      map[string]any
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// FanoutNotifier posts the summary to Slack and emails the contact when an
// address is known. Both channels are attempted.
type FanoutNotifier struct {
	slack   slack.Provider
	channel string
	email   email.Provider
	log     *zap.Logger
}

func NewNotifier(cfg config.Config, slackProvider slack.Provider, emailProvider email.Provider, log *zap.Logger) Notifier {
	return &FanoutNotifier{
		slack:   slackProvider,
		channel: cfg.Notify.SlackChannel,
		email:   emailProvider,
		log:     log.Named("providers.notifier"),
	}
}

func (n *FanoutNotifier) Notify(ctx context.Context, msg Notification) error {
	var errs []error
	if msg.Summary != "" {
		if err := n.slack.PostMessage(ctx, n.channel, msg.Summary); err != nil {
			n.log.Warn("slack notification failed", zap.String("contact_id", msg.ContactID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if addr := strings.TrimSpace(msg.Email); addr != "" && msg.Template != "" {
		data := make(map[string]any, len(msg.Data)+1)
		for k, v := range msg.Data {
			data[k] = v
		}
		data["name"] = msg.Name
		if err := n.email.SendTemplate(ctx, []string{addr}, msg.Template, data); err != nil {
			n.log.Warn("email notification failed", zap.String("contact_id", msg.ContactID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
