package email

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturing(cfg Config) (*SMTPProvider, *[]sent) {
	var out []sent
	p := NewSMTP(cfg)
	p.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		out = append(out, sent{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return p, &out
}

func TestSendTemplate(t *testing.T) {
	p, out := newCapturing(Config{Host: "smtp.local", Port: 2525, From: "bot@botledger.local"})

	err := p.SendTemplate(context.Background(), []string{"ana@example.com"}, "reengagement", map[string]any{
		"name":         "Ana",
		"situation_id": "sit-9",
	})
	require.NoError(t, err)
	require.Len(t, *out, 1)

	msg := (*out)[0]
	assert.Equal(t, "smtp.local:2525", msg.addr)
	assert.Equal(t, "bot@botledger.local", msg.from)
	assert.Contains(t, msg.msg, "Subject: We saved your spot\r\n")
	assert.Contains(t, msg.msg, "Hi Ana,")
	assert.Contains(t, msg.msg, "Reference: sit-9")
}

func TestSendRequiresRecipients(t *testing.T) {
	p, out := newCapturing(Config{Host: "smtp.local", Port: 25})
	assert.ErrorIs(t, p.Send(context.Background(), nil, "s", "b"), ErrNoRecipients)
	assert.Empty(t, *out)
}

func TestUnknownTemplate(t *testing.T) {
	p, _ := newCapturing(Config{Host: "smtp.local", Port: 25})
	assert.Error(t, p.SendTemplate(context.Background(), []string{"a@b.c"}, "missing", nil))
}
