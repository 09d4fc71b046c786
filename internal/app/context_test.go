package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bugtrail/internal/config"
	"bugtrail/internal/notify"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenWithoutConfigFile(t *testing.T) {
	ws := t.TempDir()
	c, err := Open(context.Background(), ws, quiet())
	require.NoError(t, err)
	assert.NotNil(t, c.Dispatcher)
	assert.Equal(t, config.Default().Breach.Threshold, c.Engine.Breach.Threshold)

	u, err := c.Engine.RegisterUser(context.Background(), "ada", "ada@example.com", "ADMIN")
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	require.NoError(t, c.Close(context.Background()))
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	yml := "breach:\n  threshold: 90s\nnotify:\n  channel: none\n"
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(yml), 0o644))

	c, err := Open(context.Background(), ws, quiet())
	require.NoError(t, err)
	defer c.Close(context.Background())
	assert.Nil(t, c.Dispatcher)
	assert.Nil(t, c.Engine.Notifier)
	assert.Equal(t, "1m30s", c.Engine.Breach.Threshold.String())
}

func TestNewSender(t *testing.T) {
	cfg := config.Default().Notify

	s, err := NewSender(cfg, quiet())
	require.NoError(t, err)
	assert.IsType(t, notify.LogSender{}, s)

	cfg.Channel = "SMTP"
	s, err = NewSender(cfg, quiet())
	require.NoError(t, err)
	assert.IsType(t, notify.SMTPSender{}, s)

	cfg.Channel = "webhook"
	cfg.Webhook.URL = "http://127.0.0.1:9/hook"
	s, err = NewSender(cfg, quiet())
	require.NoError(t, err)
	wh, ok := s.(notify.WebhookSender)
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:9/hook", wh.URL)

	cfg.Channel = "pigeon"
	_, err = NewSender(cfg, quiet())
	assert.Error(t, err)
}
