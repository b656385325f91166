package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type slackStub struct {
	channel, text string
	err           error
}

func (s *slackStub) PostMessage(_ context.Context, channel, text string) error {
	s.channel, s.text = channel, text
	return s.err
}

type emailStub struct {
	email.NoOpProvider
	to       []string
	template string
	data     map[string]any
}

func (e *emailStub) SendTemplate(_ context.Context, to []string, name string, data map[string]any) error {
	e.to, e.template, e.data = to, name, data
	return nil
}

func TestNotifyFansOut(t *testing.T) {
	sl := &slackStub{}
	em := &emailStub{}
	cfg := config.Config{Notify: config.NotifyConfig{SlackChannel: "#followups"}}
	n := NewNotifier(cfg, sl, em, zap.NewNop())

	err := n.Notify(context.Background(), Notification{
		ContactID: "c1",
		Email:     "ana@example.com",
		Name:      "Ana",
		Template:  "reengagement",
		Summary:   "re-engaging c1",
		Data:      map[string]any{"situation_id": "s1"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "#followups", sl.channel)
	assert.Equal(t, "re-engaging c1", sl.text)
	assert.Equal(t, []string{"ana@example.com"}, em.to)
	assert.Equal(t, "reengagement", em.template)
	assert.Equal(t, "Ana", em.data["name"])
	assert.Equal(t, "s1", em.data["situation_id"])
}

func TestNotifyReportsChannelFailure(t *testing.T) {
	sl := &slackStub{err: errors.New("boom")}
	em := &emailStub{}
	n := NewNotifier(config.Config{}, sl, em, zap.NewNop())

	err := n.Notify(context.Background(), Notification{ContactID: "c1", Email: "a@b.c", Template: "reengagement", Summary: "x"})
	assert.Error(t, err)
	assert.Equal(t, []string{"a@b.c"}, em.to, "email is still attempted")
}
